package libscan

import (
	"context"
	"fmt"
	"net/http"

	"github.com/quay/zlog"

	"github.com/fleetvuln/fleetvuln"
	"github.com/fleetvuln/fleetvuln/internal/orchestrator"
	"github.com/fleetvuln/fleetvuln/internal/scanner"
	"github.com/fleetvuln/fleetvuln/libscan/driver"
	"github.com/fleetvuln/fleetvuln/llm/azure"
	"github.com/fleetvuln/fleetvuln/predictor"
)

// Names accepted in [Opts.LLMBackend].
const (
	BackendAzure       = `azure`
	BackendLlamaServer = `llamaserver`
)

// Opts configures a Libscan instance.
type Opts struct {
	// DBPath is the SQLite database file. Required; created on first open.
	DBPath string

	// IndexPath is the example-index blob for tier-2 retrieval. Empty
	// disables the retrieval tier; predictions fall straight through to
	// inference and stay needs-review.
	IndexPath string
	// EmbedderAddr is the root URL of the embedding HTTP service. Required
	// when IndexPath is set.
	EmbedderAddr string

	// LLMBackend picks the inference backend: "azure", "llamaserver", or
	// empty to disable label prediction entirely.
	LLMBackend string
	// Azure holds the azure backend's settings.
	Azure azure.Config
	// LlamaAddr is the llama.cpp server root URL.
	LlamaAddr string
	// LLMRate caps inference calls per second. Zero means no cap.
	LLMRate float64

	// Collector performs live device discovery. Nil in snapshot-only
	// deployments.
	Collector driver.Collector
	// Inventory seeds the device table. Nil disables SyncInventory.
	Inventory driver.InventorySource

	// Client is used for all HTTP collaborators. Defaults to
	// http.DefaultClient.
	Client *http.Client

	Scanner      scanner.Opts
	Predictor    predictor.Opts
	Orchestrator orchestrator.Opts
}

func (o *Opts) parse(ctx context.Context) error {
	const op = `libscan configure`
	if o.DBPath == "" {
		return &fleetvuln.Error{Op: op, Kind: fleetvuln.ErrInvalid, Message: "no database path provided"}
	}
	switch o.LLMBackend {
	case "", BackendAzure, BackendLlamaServer:
	default:
		return &fleetvuln.Error{
			Op:      op,
			Kind:    fleetvuln.ErrInvalid,
			Message: fmt.Sprintf("unknown llm backend %q", o.LLMBackend),
		}
	}
	if o.LLMBackend != "" && o.EmbedderAddr == "" && o.IndexPath != "" {
		return &fleetvuln.Error{Op: op, Kind: fleetvuln.ErrInvalid, Message: "example index configured without an embedder address"}
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
	if o.LLMBackend == "" {
		zlog.Info(ctx).Msg("no llm backend configured, label prediction disabled")
	}
	return nil
}
