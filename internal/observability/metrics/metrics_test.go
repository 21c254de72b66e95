package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersBeforeInitAreNoops(t *testing.T) {
	if ingestRequests != nil {
		t.Skip("metrics already initialised by another test")
	}
	ObserveIngest(SourceWebhook, ResultSuccess, time.Millisecond)
	IncIngestError(SourceWebhook, "invalid_format")
	IncPointsAppended()
	SetStreamClients(3)
}

func TestInitRegistersCollectors(t *testing.T) {
	Init(nil, nil)
	Init(nil, nil)

	ObserveIngest(SourceDirect, ResultSuccess, 10*time.Millisecond)
	ObserveIngest(SourceDirect, "", 10*time.Millisecond)
	if got := testutil.ToFloat64(ingestRequests.WithLabelValues(SourceDirect, ResultSuccess)); got != 2 {
		t.Fatalf("ingest requests = %v", got)
	}

	IncIngestError("", "")
	if got := testutil.ToFloat64(ingestErrors.WithLabelValues("unknown", "unknown")); got != 1 {
		t.Fatalf("ingest errors = %v", got)
	}

	before := testutil.ToFloat64(pointsAppended)
	IncPointsAppended()
	if got := testutil.ToFloat64(pointsAppended); got != before+1 {
		t.Fatalf("points appended = %v", got)
	}

	SetStreamClients(4)
	if got := testutil.ToFloat64(streamClients); got != 4 {
		t.Fatalf("stream clients = %v", got)
	}

	ObserveExport("", ResultError, time.Second)
	if got := testutil.ToFloat64(exportTotal.WithLabelValues("unknown", ResultError)); got != 1 {
		t.Fatalf("export total = %v", got)
	}
}
