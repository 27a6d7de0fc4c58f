package controllers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/angelmondragon/formpay/api/assets"
)

var assetsModTime = time.Now()

// CheckoutScript serves the embedded checkout bridge.
func CheckoutScript() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=300")
		http.ServeContent(w, r, "checkout.js", assetsModTime, bytes.NewReader(assets.CheckoutScript))
	}
}
