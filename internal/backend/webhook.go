package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"humed/internal/config"
	"humed/internal/hume"
	"humed/internal/render"
	"humed/internal/storage"
	"humed/pkg/logx"
)

const webhookTimeout = 10 * time.Second

// webhookBackend posts each transfer to a chat-service incoming webhook.
// Success is HTTP 200 exactly; anything else leaves the record pending.
type webhookBackend struct {
	cfg     *config.WebhookConfig
	client  *http.Client
	limiter *rate.Limiter

	res       *render.Resolver
	log       logx.Logger
	humedHost string
}

func newWebhook(cfg *config.WebhookConfig, deps Deps) *webhookBackend {
	base := "webhook"
	if cfg.TemplateBase != "" {
		base = cfg.TemplateBase
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
	}
	return &webhookBackend{
		cfg:       cfg,
		client:    &http.Client{Timeout: webhookTimeout},
		limiter:   limiter,
		res:       resolver(deps, base),
		log:       deps.Log,
		humedHost: deps.HumedHostname,
	}
}

func (b *webhookBackend) Name() string { return "webhook" }

// destination picks the webhook URL for a packet. Per-task routing wins;
// otherwise the level decides, with webhook_default standing in for any
// unset level key.
func (b *webhookBackend) destination(pkt *hume.Packet) string {
	if url, ok := b.cfg.TaskWebhooks[pkt.Hume.Task]; ok && url != "" {
		return url
	}
	var url string
	switch pkt.Hume.Level {
	case hume.LevelWarning, hume.LevelUnknown:
		url = b.cfg.WebhookWarning
	case hume.LevelError:
		url = b.cfg.WebhookError
	case hume.LevelCritical:
		url = b.cfg.WebhookCritical
	case hume.LevelDebug:
		url = b.cfg.WebhookDebug
	}
	if url == "" {
		url = b.cfg.WebhookDefault
	}
	return url
}

func (b *webhookBackend) Send(ctx context.Context, rec storage.Record) error {
	pkt := rec.Packet

	body, err := b.body(ctx, pkt)
	if err != nil {
		return err
	}
	url := b.destination(pkt)
	if url == "" {
		return errors.New("backend webhook: no destination configured")
	}

	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("backend webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("backend webhook: post: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend webhook: status %d", resp.StatusCode)
	}
	return nil
}

// body renders the template for the packet level, expecting it to produce a
// complete JSON document. Without a template, or when the template fails to
// render, the {"text": line} fallback is used.
func (b *webhookBackend) body(ctx context.Context, pkt *hume.Packet) (string, error) {
	out, err := b.res.Render(ctx, b.humedHost, pkt)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, render.ErrNoTemplate) {
		// A broken template produces no content; the record still goes
		// out as the plain line.
		b.log.Warn("template render failed, using fallback body",
			logx.String("task", pkt.Hume.Task), logx.Err(err))
	}
	// Entities are escaped by chatLine already; keep the encoder from
	// escaping them a second time.
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(map[string]string{"text": chatLine(b.humedHost, pkt)}); err != nil {
		return "", fmt.Errorf("backend webhook: marshal body: %w", err)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
