// Package assets embeds the browser side of the checkout bridge.
package assets

import (
	_ "embed"
)

// CheckoutScript is served at /assets/checkout.js.
//
//go:embed checkout.js
var CheckoutScript []byte
