package dlinkws

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// defaultModel is assumed when a websocket device refuses the status
// page probe. Single-socket firmware ships without the page enabled,
// so a refused connection is itself a model hint.
const defaultModel = "DSP-W115"

// ssidPattern matches the setup SSID the status page embeds, e.g.
// "DSP-W245-4F21". The model is the part before the 4-hex-digit tail.
var ssidPattern = regexp.MustCompile(`(DSP-W\d+)-[0-9A-Fa-f]{4}`)

// ProbeModel determines a websocket device's model by scraping its
// plain-HTTP status page for the setup SSID.
//
// The websocket protocol itself never states the model, so this side
// channel is the only way to tell a DSP-W115 from a DSP-W245 before
// the catalog lookup. A refused or failed probe returns the default
// single-socket model rather than an error.
func ProbeModel(ctx context.Context, address string, timeout time.Duration) string {
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	client := &http.Client{Timeout: timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://%s/", address), nil)
	if err != nil {
		return defaultModel
	}

	resp, err := client.Do(req)
	if err != nil {
		return defaultModel
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return defaultModel
	}

	if m := ssidPattern.FindSubmatch(body); m != nil {
		return string(m[1])
	}
	return defaultModel
}
