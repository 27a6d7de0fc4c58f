// Command checkout-probe walks a webform through the embedded checkout
// against a running api: it fetches the checkout config, opens a session
// and, with -complete, submits the form with the reserved payment id.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/formpay/internal/checkoutbridge"
	"github.com/angelmondragon/formpay/pkg/env"
	"github.com/angelmondragon/formpay/pkg/logger"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "checkout-probe"})
	_ = godotenv.Load()

	apiURL := flag.String("api", env.Get("FORMPAY_APP_PUBLIC_URL", "http://localhost:8080"), "api base url")
	webformID := flag.String("webform", "", "webform id")
	rawValues := flag.String("values", "{}", "json object of form values")
	callbackURL := flag.String("callback", "", "page the widget returns to")
	complete := flag.Bool("complete", false, "submit the form once the session is open")
	timeout := flag.Duration("timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	if strings.TrimSpace(*webformID) == "" {
		fmt.Fprintln(os.Stderr, "missing -webform")
		os.Exit(2)
	}
	values, err := parseValues(*rawValues)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *callbackURL == "" {
		*callbackURL = strings.TrimRight(*apiURL, "/") + "/form/" + *webformID
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	ctx = logg.WithWebformID(ctx, *webformID)

	httpClient := &http.Client{Timeout: *timeout}
	client := &apiClient{baseURL: strings.TrimRight(*apiURL, "/"), httpClient: httpClient}

	cfg, err := client.checkoutConfig(ctx, *webformID, values, *callbackURL)
	if err != nil {
		logg.Error(ctx, "checkout config unavailable", err)
		os.Exit(1)
	}

	widget := &logWidget{logg: logg}
	form := newSubmissionForm(client, *webformID, values)
	bridge, err := checkoutbridge.New(*cfg, widget, form,
		checkoutbridge.WithHTTPClient(httpClient),
		checkoutbridge.WithLogger(logg),
	)
	if err != nil {
		logg.Error(ctx, "invalid checkout config", err)
		os.Exit(1)
	}

	if err := bridge.Start(ctx); err != nil {
		var fatal *checkoutbridge.FatalError
		if errors.As(err, &fatal) {
			fmt.Fprintln(os.Stderr, fatal.Message)
		}
		logg.Error(ctx, "checkout session failed", err)
		os.Exit(1)
	}
	fmt.Println("payment id:", bridge.SessionID())

	if !*complete {
		return
	}
	err = bridge.HandleCompleted(ctx, checkoutbridge.CompletedEvent{PaymentID: bridge.SessionID()})
	if err != nil {
		logg.Error(ctx, "submission failed", err)
		os.Exit(1)
	}
	fmt.Printf("submission: %v\n", form.result)
}

