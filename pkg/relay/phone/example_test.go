// Copyright 2024-2026 Aiku AI

package phone_test

import (
	"fmt"

	"github.com/aiku/chatrelay/pkg/relay/phone"
)

func ExampleNormalizer_ToNetworkForm() {
	n := phone.MustNew("54", "9")
	fmt.Println(n.Normalize("91134083140"))
	fmt.Println(n.ToNetworkForm("91134083140"))
	// Output:
	// 5491134083140
	// 5491134083140@c.us
}
