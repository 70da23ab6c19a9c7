// Command credctl signs credcalls write requests and tails the event stream.
//
//	credctl --key $KEY --path /v1/calls --body '{"token":"0x..","stake_amount":1}'
//	credctl --key $KEY --path /v1/calls/1/follow --url http://localhost:8080
//	credctl --watch ws://localhost:8080/v1/events --call-id 1
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/GoPolymarket/credcalls/internal/events"
	"github.com/GoPolymarket/credcalls/internal/model"
	"github.com/GoPolymarket/credcalls/internal/signer"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	fs := pflag.NewFlagSet("credctl", pflag.ExitOnError)
	fs.String("key", "", "hex private key (or CREDCTL_KEY)")
	fs.String("method", http.MethodPost, "HTTP method")
	fs.String("path", "", "request path, e.g. /v1/calls/1/follow")
	fs.String("body", "", "raw JSON body")
	fs.Int64("ts", 0, "unix timestamp; defaults to now")
	fs.String("url", "", "base URL; when set the request is sent, e.g. http://localhost:8080")
	fs.String("idempotency-key", "", "optional X-Idempotency-Key")
	fs.String("watch", "", "websocket URL to tail instead of signing, e.g. ws://localhost:8080/v1/events")
	fs.Uint64("call-id", 0, "with --watch, only print events for this trade call")
	_ = fs.Parse(os.Args[1:])

	v := viper.New()
	v.SetEnvPrefix("credctl")
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		fatal(err)
	}

	if url := v.GetString("watch"); url != "" {
		watch(url, v.GetUint64("call-id"))
		return
	}

	path := v.GetString("path")
	if path == "" {
		fatal(fmt.Errorf("--path is required"))
	}
	s, err := signer.NewSigner(v.GetString("key"))
	if err != nil {
		fatal(err)
	}
	ts := v.GetInt64("ts")
	if ts == 0 {
		ts = time.Now().Unix()
	}
	method := strings.ToUpper(v.GetString("method"))
	body := []byte(v.GetString("body"))

	headers, err := s.SignRequest(signer.Request{
		Method:         method,
		Path:           path,
		Body:           body,
		Timestamp:      ts,
		IdempotencyKey: v.GetString("idempotency-key"),
	})
	if err != nil {
		fatal(err)
	}

	base := v.GetString("url")
	if base == "" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(headers)
		return
	}

	req, err := http.NewRequest(method, strings.TrimRight(base, "/")+path, bytes.NewReader(body))
	if err != nil {
		fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, val := range headers {
		req.Header.Set(k, val)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fatal(err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s\n%s\n", resp.Status, out)
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func watch(url string, callID uint64) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	enc := json.NewEncoder(os.Stdout)
	err := events.Stream(ctx, url, callID, func(ev model.Event) {
		_ = enc.Encode(ev)
	})
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "credctl:", err)
	os.Exit(1)
}
