package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/config"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/model"
	"gitlab.com/timkado/api/daisi-comms-pipeline/internal/webhook"
	"gitlab.com/timkado/api/daisi-comms-pipeline/pkg/logger"
)

var kindPaths = map[model.EventKind]string{
	model.EventVoiceStatus:    "voice/status",
	model.EventSmsInbound:     "sms/inbound",
	model.EventSmsStatus:      "sms/status",
	model.EventVoiceRecording: "voice/recording",
}

var callStatusFlow = []string{"initiated", "ringing", "in-progress", "completed"}

// callback is one generated provider request.
type callback struct {
	Kind model.EventKind
	Form url.Values
}

type stats struct {
	sent       atomic.Int64
	redelivers atomic.Int64
	byStatus   sync.Map // int -> *atomic.Int64
	failures   atomic.Int64
}

func (s *stats) record(status int) {
	v, _ := s.byStatus.LoadOrStore(status, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	target := flag.String("target", fmt.Sprintf("http://localhost:%d", cfg.Server.Port), "Base URL of the pipeline API")
	providerName := flag.String("provider", cfg.Provider.Name, "Provider name used in the webhook path and secret lookup")
	secret := flag.String("secret", "", "Webhook signing secret (defaults to the configured secret for -provider)")
	linesStr := flag.String("lines", "", "Comma-separated E.164 numbers owned by business lines")
	kindsStr := flag.String("kinds", "sms.inbound,sms.status,voice.status,voice.recording", "Comma-separated callback kinds")
	ratePerSec := flag.Int("rate", 50, "Target callbacks per second")
	duration := flag.Duration("duration", 30*time.Second, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Maximum in-flight requests")
	redeliver := flag.Float64("redeliver", 0.2, "Fraction of callbacks sent twice to exercise deduplication")
	unknownRatio := flag.Float64("unknown", 0.0, "Fraction of callbacks addressed to an unowned number")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Signed webhook generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Sends signed provider callbacks to daisi-comms-pipeline.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if *secret == "" {
		*secret = cfg.WebhookSecret(*providerName)
	}
	if *secret == "" {
		logger.Log.Fatal("No webhook secret configured", zap.String("provider", *providerName))
	}
	lines := splitList(*linesStr)
	if len(lines) == 0 {
		logger.Log.Fatal("At least one line number is required (-lines)")
	}
	var kinds []model.EventKind
	for _, k := range splitList(*kindsStr) {
		if _, ok := kindPaths[model.EventKind(k)]; !ok {
			logger.Log.Fatal("Unsupported callback kind", zap.String("kind", k))
		}
		kinds = append(kinds, model.EventKind(k))
	}
	if *ratePerSec <= 0 {
		*ratePerSec = 1
	}

	gofakeit.Seed(time.Now().UnixNano())

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			logger.Log.Info("Received termination signal, shutting down...", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Log.Info("Starting webhook generator",
		zap.String("target", *target),
		zap.String("provider", *providerName),
		zap.Int("rate_per_sec", *ratePerSec),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("lines", len(lines)),
	)

	client := &http.Client{Timeout: 10 * time.Second}
	var st stats
	p := pool.New().WithMaxGoroutines(*concurrency)

	send := func(cb callback) {
		body := []byte(cb.Form.Encode())
		endpoint := fmt.Sprintf("%s/webhooks/%s/%s", strings.TrimRight(*target, "/"), *providerName, kindPaths[cb.Kind])
		req, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			st.failures.Add(1)
			return
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set(cfg.Webhooks.SignatureHeader, webhook.Sign(*secret, body))

		resp, err := client.Do(req)
		st.sent.Add(1)
		if err != nil {
			st.failures.Add(1)
			logger.Log.Warn("Request failed", zap.String("kind", string(cb.Kind)), zap.Error(err))
			return
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		st.record(resp.StatusCode)
	}

	ticker := time.NewTicker(time.Second / time.Duration(*ratePerSec))
	defer ticker.Stop()

	counter := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			line := lines[counter%len(lines)]
			if gofakeit.Float64Range(0, 1) < *unknownRatio {
				line = model.FakePhone()
			}
			for _, cb := range generate(kinds[counter%len(kinds)], line) {
				cb := cb
				p.Go(func() { send(cb) })
				if gofakeit.Float64Range(0, 1) < *redeliver {
					st.redelivers.Add(1)
					p.Go(func() { send(cb) })
				}
			}
			counter++
		}
	}

	logger.Log.Info("Waiting for in-flight requests...")
	p.Wait()

	fields := []zap.Field{
		zap.Int64("sent", st.sent.Load()),
		zap.Int64("redelivered", st.redelivers.Load()),
		zap.Int64("transport_failures", st.failures.Load()),
	}
	st.byStatus.Range(func(k, v any) bool {
		fields = append(fields, zap.Int64("status_"+strconv.Itoa(k.(int)), v.(*atomic.Int64).Load()))
		return true
	})
	logger.Log.Info("Webhook generator finished", fields...)
}

// generate builds the callbacks for one tick. Voice status produces the
// whole call lifecycle so finalize jobs get exercised.
func generate(kind model.EventKind, line string) []callback {
	caller := model.FakePhone()
	switch kind {
	case model.EventSmsInbound:
		return []callback{{Kind: kind, Form: url.Values{
			"MessageSid": {sid("SM")},
			"From":       {caller},
			"To":         {line},
			"Body":       {gofakeit.Sentence(8)},
		}}}
	case model.EventSmsStatus:
		msgSid := sid("SM")
		var out []callback
		for _, status := range []string{"queued", "sent", "delivered"} {
			out = append(out, callback{Kind: kind, Form: url.Values{
				"MessageSid":    {msgSid},
				"MessageStatus": {status},
				"From":          {line},
				"To":            {caller},
			}})
		}
		return out
	case model.EventVoiceStatus:
		callSid := sid("CA")
		var out []callback
		for i, status := range callStatusFlow {
			form := url.Values{
				"CallSid":        {callSid},
				"CallStatus":     {status},
				"From":           {caller},
				"To":             {line},
				"Direction":      {"inbound"},
				"SequenceNumber": {strconv.Itoa(i)},
			}
			if status == "completed" {
				form.Set("CallDuration", strconv.Itoa(gofakeit.Number(5, 600)))
			}
			out = append(out, callback{Kind: kind, Form: form})
		}
		return out
	case model.EventVoiceRecording:
		recSid := sid("RE")
		return []callback{{Kind: kind, Form: url.Values{
			"CallSid":           {sid("CA")},
			"RecordingSid":      {recSid},
			"RecordingUrl":      {"https://recordings.example.com/" + recSid},
			"RecordingDuration": {strconv.Itoa(gofakeit.Number(3, 120))},
			"To":                {line},
		}}}
	default:
		return nil
	}
}

func sid(prefix string) string {
	return prefix + strings.ToLower(gofakeit.LetterN(32))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
