package core

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/stonecat/internal/catalog"
	"github.com/JonMunkholm/stonecat/internal/oplog"
	"github.com/JonMunkholm/stonecat/internal/sink"
)

const productsCSV = `name,basePrice,stock,specificVariantId
Slab A,10,1,s1
Slab B,20,2,s1
Slab C,30,3,s1
`

func newTestService(t *testing.T, api *fakeAPI, out sink.Sink) (*Service, *oplog.Store) {
	t.Helper()
	clock := time.Date(2025, 3, 7, 8, 0, 0, 0, time.UTC)
	var clockMu sync.Mutex
	tick := func() time.Time {
		clockMu.Lock()
		defer clockMu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}
	logs := oplog.NewStore(oplog.NewMemoryStorage(), oplog.Options{Now: tick})
	svc := NewService(api, logs, out, ServiceConfig{MaxWaitTime: time.Second})
	svc.now = func() time.Time { return time.Date(2025, 3, 7, 12, 0, 0, 0, time.UTC) }
	return svc, logs
}

func TestService_Entities(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI(), nil)

	infos := svc.Entities()
	require.Len(t, infos, 4)
	assert.Equal(t, EntityHierarchy, infos[0].Key)
	assert.True(t, infos[0].Hierarchical)
	assert.False(t, infos[0].Exportable)
	assert.Equal(t, EntityProducts, infos[1].Key)
	assert.Equal(t, []string{"name", "basePrice", "stock", "specificVariantId"}, infos[1].Required)
	assert.True(t, infos[1].Exportable)
}

func TestService_ImportCompletes(t *testing.T) {
	api := newFakeAPI()
	svc, _ := newTestService(t, api, nil)

	res, err := svc.Import(context.Background(), ImportRequest{
		EntityType: EntityProducts,
		FileName:   "products.csv",
		Reader:     strings.NewReader(productsCSV),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, oplog.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 3, res.Success)
	assert.Equal(t, 0, res.Failed)
	assert.Equal(t, []string{"Slab A", "Slab B", "Slab C"}, api.productNames())
	assert.Equal(t, int64(3), res.Metrics.Calls)

	l, err := svc.GetLog(res.LogID)
	require.NoError(t, err)
	assert.Equal(t, oplog.OperationImport, l.Operation)
	assert.Equal(t, EntityProducts, l.Type)
	assert.Equal(t, "products.csv", l.FileName)
	assert.Equal(t, oplog.StatusCompleted, l.Status)
	assert.Equal(t, 3, l.TotalRecords)
	assert.Equal(t, 3, l.ProcessedRecords)
	assert.Equal(t, 3, l.SuccessfulRecords)
	assert.NotNil(t, l.EndTime)
	require.NotNil(t, l.Metrics)
	assert.Equal(t, int64(3), l.Metrics.Calls)
}

func TestService_ImportForwardsProgress(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI(), nil)
	progress := make(chan Progress)
	collected := drain(progress)

	_, err := svc.Import(context.Background(), ImportRequest{
		EntityType: EntityProducts,
		Reader:     strings.NewReader(productsCSV),
	}, progress)
	close(progress)
	require.NoError(t, err)

	events := <-collected
	require.Len(t, events, 3)
	assert.Equal(t, Progress{Processed: 3, Total: 3, Succeeded: 3}, events[2])
}

func TestService_ValidationFailureCommitsNothing(t *testing.T) {
	api := newFakeAPI()
	svc, _ := newTestService(t, api, nil)

	csv := "name,basePrice,stock,specificVariantId\nSlab A,ten,1,s1\nSlab B,20,2,s1\n"
	res, err := svc.Import(context.Background(), ImportRequest{
		EntityType: EntityProducts,
		Reader:     strings.NewReader(csv),
	}, nil)
	require.ErrorIs(t, err, ErrValidationFailed)
	require.NotNil(t, res)
	assert.Equal(t, oplog.StatusFailed, res.Status)
	assert.Empty(t, api.productNames())

	l, err := svc.GetLog(res.LogID)
	require.NoError(t, err)
	assert.Equal(t, oplog.StatusFailed, l.Status)
	assert.Equal(t, 2, l.TotalRecords)
	require.Len(t, l.Errors, 1)
	assert.Equal(t, "validation", l.Errors[0].Stage)
	assert.Equal(t, 2, l.Errors[0].Row)
	assert.Equal(t, "basePrice", l.Errors[0].Field)
}

func TestService_EmptyFileFailsTheLog(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI(), nil)

	res, err := svc.Import(context.Background(), ImportRequest{
		EntityType: EntityVariants,
		Reader:     strings.NewReader(""),
	}, nil)
	require.ErrorIs(t, err, ErrEmptyInput)

	l, err := svc.GetLog(res.LogID)
	require.NoError(t, err)
	assert.Equal(t, oplog.StatusFailed, l.Status)
	require.Len(t, l.Errors, 1)
	assert.Equal(t, "parse", l.Errors[0].Stage)
}

func TestService_AllRowsFailing(t *testing.T) {
	api := newFakeAPI()
	api.onProduct = func(catalog.ProductInput) (catalog.CreateOutcome, error, bool) {
		return catalog.CreateOutcome{Status: catalog.Failed, Message: "nope"}, nil, true
	}
	svc, _ := newTestService(t, api, nil)

	res, err := svc.Import(context.Background(), ImportRequest{
		EntityType: EntityProducts,
		Reader:     strings.NewReader(productsCSV),
	}, nil)
	require.NoError(t, err, "row failures are reported in the result")
	assert.Equal(t, oplog.StatusFailed, res.Status)
	assert.Equal(t, 3, res.Failed)

	l, _ := svc.GetLog(res.LogID)
	assert.Equal(t, 3, l.FailedRecords)
	require.Len(t, l.Errors, 3)
	assert.Equal(t, "entity", l.Errors[0].Stage)
	assert.Equal(t, "Slab A", l.Errors[0].Data["name"])
}

func TestService_RejectsBadRequests(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI(), nil)
	ctx := context.Background()

	_, err := svc.Import(ctx, ImportRequest{EntityType: "widgets", Reader: strings.NewReader("a\n1\n")}, nil)
	assert.ErrorIs(t, err, ErrUnknownEntity)

	_, err = svc.Import(ctx, ImportRequest{EntityType: EntityVariants}, nil)
	assert.Error(t, err)

	_, err = svc.Import(ctx, ImportRequest{EntityType: EntityVariants, Reader: strings.NewReader("name\nA\n"), HierarchyMode: "loose"}, nil)
	assert.Error(t, err)

	assert.Empty(t, svc.Logs(), "rejected requests leave no log")
}

func TestService_MaxFileSize(t *testing.T) {
	logs := oplog.NewStore(oplog.NewMemoryStorage(), oplog.Options{})
	svc := NewService(newFakeAPI(), logs, nil, ServiceConfig{MaxFileSize: 16})

	_, err := svc.Import(context.Background(), ImportRequest{
		EntityType: EntityProducts,
		Reader:     strings.NewReader(productsCSV),
	}, nil)
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestService_HierarchyImport(t *testing.T) {
	api := newFakeAPI()
	svc, _ := newTestService(t, api, nil)

	csv := "variant_name,specific_name,product_name,product_price,product_stock\n" +
		"Granite,Polished,A,100,1\n" +
		"Granite,Polished,B,110,2\n" +
		"Marble,Honed,C,120,3\n"
	res, err := svc.Import(context.Background(), ImportRequest{
		EntityType:  EntityHierarchy,
		Reader:      strings.NewReader(csv),
		Concurrency: 3,
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, oplog.StatusCompleted, res.Status)
	assert.Equal(t, 3, res.Success)
	assert.Equal(t, 2, api.createVariantCalls)
	assert.Equal(t, 2, api.createSpecificCalls)
}

func TestService_ValidateFile(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI(), nil)

	report, err := svc.ValidateFile(context.Background(), ImportRequest{
		EntityType: EntityProducts,
		Reader:     strings.NewReader("name,stock\nSlab,2\nSlab,3\n"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "stock"}, report.Headers)
	assert.Equal(t, []string{"basePrice", "specificVariantId"}, report.MissingColumns)
	assert.False(t, report.Outcome.IsValid())
	assert.Len(t, report.Outcome.Warnings, 1)
	assert.Empty(t, svc.Logs(), "dry runs are not logged")
}

func TestService_StartImportAndSubscribe(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI(), nil)

	id, err := svc.StartImport(context.Background(), ImportRequest{
		EntityType: EntityProducts,
		Reader:     strings.NewReader(productsCSV),
	})
	require.NoError(t, err)

	updates, err := svc.SubscribeProgress(id)
	require.NoError(t, err)

	var last Progress
	for p := range updates {
		last = p
	}
	assert.Equal(t, 3, last.Processed)
	assert.Equal(t, 3, last.Succeeded)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, res.LogID)
	assert.Equal(t, oplog.StatusCompleted, res.Status)

	p, err := svc.Progress(id)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Processed)

	l, _ := svc.GetLog(id)
	assert.Equal(t, oplog.StatusCompleted, l.Status)
}

func TestService_CancelKeepsCommittedRows(t *testing.T) {
	api := newFakeAPI()
	entered := make(chan struct{})
	release := make(chan struct{})
	first := true
	api.onProduct = func(catalog.ProductInput) (catalog.CreateOutcome, error, bool) {
		if first {
			first = false
			close(entered)
			<-release
		}
		return catalog.CreateOutcome{}, nil, false
	}
	svc, _ := newTestService(t, api, nil)

	id, err := svc.StartImport(context.Background(), ImportRequest{
		EntityType: EntityProducts,
		Reader:     strings.NewReader(productsCSV),
	})
	require.NoError(t, err)
	<-entered

	assert.ErrorIs(t, svc.ClearLogs(context.Background()), ErrRunsActive)

	require.NoError(t, svc.Cancel(id))
	close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := svc.Wait(ctx, id)
	require.ErrorIs(t, err, ErrRunCancelled)
	assert.Equal(t, oplog.StatusCancelled, res.Status)
	assert.Equal(t, 1, res.Success)
	assert.Equal(t, []string{"Slab A"}, api.productNames())

	l, _ := svc.GetLog(id)
	assert.Equal(t, oplog.StatusCancelled, l.Status)
	assert.Equal(t, 1, l.SuccessfulRecords)
	assert.Equal(t, 3, l.TotalRecords)

	require.NoError(t, svc.ClearLogs(context.Background()), "finished runs do not block clearing")
	assert.Empty(t, svc.Logs())
}

func TestService_ClearLogsRefusedDuringExport(t *testing.T) {
	api := newFakeAPI()
	api.listed[catalog.KindVariant] = []json.RawMessage{json.RawMessage(`{"_id":"v1","name":"Granite"}`)}
	entered := make(chan struct{})
	release := make(chan struct{})
	api.onList = func(catalog.Kind) {
		close(entered)
		<-release
	}
	svc, _ := newTestService(t, api, nil)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Export(context.Background(), ExportRequest{
			EntityType: EntityVariants,
			Format:     FormatCSV,
			CSV:        DefaultCSVOptions(),
		})
		done <- err
	}()
	<-entered

	assert.ErrorIs(t, svc.ClearLogs(context.Background()), ErrRunsActive)
	require.Len(t, svc.Logs(), 1, "export log survives")

	close(release)
	require.NoError(t, <-done)

	logs := svc.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, oplog.StatusCompleted, logs[0].Status)
	require.NoError(t, svc.ClearLogs(context.Background()))
	assert.Empty(t, svc.Logs())
}

func TestService_UnknownRun(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI(), nil)

	_, err := svc.SubscribeProgress("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, svc.Cancel("nope"), ErrRunNotFound)
	_, err = svc.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = svc.GetLog("nope")
	assert.ErrorIs(t, err, oplog.ErrLogNotFound)
}

func TestService_ExportToFileSink(t *testing.T) {
	api := newFakeAPI()
	api.listed[catalog.KindVariant] = []json.RawMessage{
		json.RawMessage(`{"_id":"v1","name":"Granite","description":"Hard"}`),
		json.RawMessage(`{"_id":"v2","name":"Marble"}`),
	}
	out, err := sink.NewFileSink(t.TempDir())
	require.NoError(t, err)
	svc, _ := newTestService(t, api, out)

	res, err := svc.Export(context.Background(), ExportRequest{
		EntityType: EntityVariants,
		Format:     FormatCSV,
		CSV:        DefaultCSVOptions(),
		Save:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, "variants_export_2025-03-07.csv", res.Blob.Name)
	assert.True(t, strings.HasSuffix(res.Location, "variants_export_2025-03-07.csv"))

	saved, err := os.ReadFile(res.Location)
	require.NoError(t, err)
	assert.Equal(t, res.Blob.Data, saved)
	assert.True(t, strings.HasPrefix(string(saved), "_id,name,description\n"))

	l, _ := svc.GetLog(res.LogID)
	assert.Equal(t, oplog.OperationExport, l.Operation)
	assert.Equal(t, oplog.StatusCompleted, l.Status)
	assert.Equal(t, 2, l.TotalRecords)
	assert.Equal(t, 2, l.SuccessfulRecords)
}

func TestService_ExportJSON(t *testing.T) {
	api := newFakeAPI()
	api.listed[catalog.KindProduct] = []json.RawMessage{json.RawMessage(`{"name":"Slab"}`)}
	svc, _ := newTestService(t, api, nil)

	res, err := svc.Export(context.Background(), ExportRequest{
		EntityType: EntityProducts,
		Format:     FormatJSON,
		JSON:       JSONOptions{IncludeMetadata: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "products_export_2025-03-07.json", res.Blob.Name)
	assert.Contains(t, string(res.Blob.Data), `"exportedAt":"2025-03-07T12:00:00Z"`)
	assert.Empty(t, res.Location)
}

func TestService_ExportFailures(t *testing.T) {
	t.Run("list error fails the log", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeAPI(), nil)
		res, err := svc.Export(context.Background(), ExportRequest{EntityType: EntityProducts})
		require.Error(t, err)

		l, _ := svc.GetLog(res.LogID)
		assert.Equal(t, oplog.StatusFailed, l.Status)
		require.Len(t, l.Errors, 1)
		assert.Equal(t, "export", l.Errors[0].Stage)
	})

	t.Run("empty csv", func(t *testing.T) {
		api := newFakeAPI()
		api.listed[catalog.KindVariant] = []json.RawMessage{}
		svc, _ := newTestService(t, api, nil)
		_, err := svc.Export(context.Background(), ExportRequest{EntityType: EntityVariants})
		assert.ErrorIs(t, err, ErrEmptyExport)
	})

	t.Run("save without sink", func(t *testing.T) {
		api := newFakeAPI()
		api.listed[catalog.KindVariant] = []json.RawMessage{json.RawMessage(`{"name":"A"}`)}
		svc, _ := newTestService(t, api, nil)
		_, err := svc.Export(context.Background(), ExportRequest{EntityType: EntityVariants, Save: true})
		assert.Error(t, err)
	})

	t.Run("hierarchy and bad format", func(t *testing.T) {
		svc, _ := newTestService(t, newFakeAPI(), nil)
		_, err := svc.Export(context.Background(), ExportRequest{EntityType: EntityHierarchy})
		assert.ErrorIs(t, err, ErrUnknownEntity)
		_, err = svc.Export(context.Background(), ExportRequest{EntityType: EntityVariants, Format: "xml"})
		assert.Error(t, err)
		assert.Empty(t, svc.Logs())
	})
}

func TestService_LogHistory(t *testing.T) {
	api := newFakeAPI()
	svc, _ := newTestService(t, api, nil)
	ctx := context.Background()

	first, err := svc.Import(ctx, ImportRequest{EntityType: EntityVariants, Reader: strings.NewReader("name\nA\n")}, nil)
	require.NoError(t, err)
	second, err := svc.Import(ctx, ImportRequest{EntityType: EntityVariants, Reader: strings.NewReader("name\nB\n")}, nil)
	require.NoError(t, err)

	logs := svc.Logs()
	require.Len(t, logs, 2)
	assert.Equal(t, second.LogID, logs[0].ID, "newest first")
	assert.Equal(t, first.LogID, logs[1].ID)

	blob, err := svc.ExportLogs()
	require.NoError(t, err)
	assert.Equal(t, "import_export_logs_2025-03-07.json", blob.Name)
	var exported []oplog.Log
	require.NoError(t, json.Unmarshal(blob.Data, &exported))
	assert.Len(t, exported, 2)

	require.NoError(t, svc.ClearLogs(ctx))
	assert.Empty(t, svc.Logs())
}

func TestService_Shutdown(t *testing.T) {
	svc, _ := newTestService(t, newFakeAPI(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, svc.Shutdown(ctx))
}

func TestService_RetentionJob(t *testing.T) {
	svc, logs := newTestService(t, newFakeAPI(), nil)
	ctx := context.Background()

	_, err := svc.Import(ctx, ImportRequest{EntityType: EntityVariants, Reader: strings.NewReader("name\nA\n")}, nil)
	require.NoError(t, err)
	pending, err := logs.CreateLog(ctx, oplog.CreateParams{Operation: oplog.OperationImport, Type: EntityVariants})
	require.NoError(t, err)

	// Log times start at 08:00 and svc.now is 12:00.
	assert.Equal(t, 0, svc.runRetentionJob(ctx, RetentionConfig{MaxAge: 24 * time.Hour}))
	assert.Equal(t, 1, svc.runRetentionJob(ctx, RetentionConfig{MaxAge: time.Hour}))

	remaining := svc.Logs()
	require.Len(t, remaining, 1)
	assert.Equal(t, pending, remaining[0].ID)

	done := make(chan struct{})
	go func() {
		svc.StartRetentionScheduler(ctx, RetentionConfig{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler without MaxAge should return at once")
	}
}
