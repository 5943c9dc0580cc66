package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomstore/association"
	"github.com/caio-sobreiro/dicomstore/client"
	"github.com/caio-sobreiro/dicomstore/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/interfaces"
	"github.com/caio-sobreiro/dicomstore/metrics"
	"github.com/caio-sobreiro/dicomstore/negotiation"
	"github.com/caio-sobreiro/dicomstore/storage"
	"github.com/caio-sobreiro/dicomstore/types"
)

const waitTimeout = 5 * time.Second

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type receivedCall struct {
	path, transferSyntax, callingAE string
}

type recordingReceiver struct {
	mu    sync.Mutex
	calls []receivedCall
}

func (r *recordingReceiver) OnReceived(_ context.Context, path, ts, callingAE string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, receivedCall{path, ts, callingAE})
	return nil
}

func (r *recordingReceiver) Calls() []receivedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]receivedCall(nil), r.calls...)
}

// releaseSignal publishes every released association number.
type releaseSignal chan uint64

func (s releaseSignal) AssociationReleased(a *association.Association) {
	s <- a.Number()
}

func (s releaseSignal) await(t *testing.T) uint64 {
	t.Helper()
	select {
	case n := <-s:
		return n
	case <-time.After(waitTimeout):
		t.Fatal("association was not released")
		return 0
	}
}

func startStorageSCP(t *testing.T, store storage.Store, received interfaces.ReceivedObjectHandler, opts ...Option) *Dispatcher {
	t.Helper()
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	d := NewStorageDispatcher("STORESCP", "127.0.0.1:0", store, received, opts...)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		d.Shutdown()
		d.Wait()
	})
	return d
}

func scuConfig() client.Config {
	return client.Config{
		CallingAETitle: "STORESCU",
		CalledAETitle:  "STORESCP",
		Logger:         quietLogger(),
	}
}

func ctObject(instance, ts string) client.Object {
	return client.Object{
		SOPClassUID:       types.CTImageStorage,
		SOPInstanceUID:    instance,
		TransferSyntaxUID: ts,
		DataSet:           []byte{0x08, 0x00, 0x60, 0x00, 0x02, 0x00, 0x00, 0x00, 'C', 'T'},
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := storage.NewMemoryStore()
	received := &recordingReceiver{}
	released := make(releaseSignal, 1)
	d := startStorageSCP(t, store, received, WithStatusHandler(released))
	require.True(t, d.IsReady())

	result, err := client.Send(context.Background(), d.Addr().String(), scuConfig(),
		ctObject("1.2.3.1", types.ExplicitVRLittleEndian))
	require.NoError(t, err)
	assert.True(t, result.AllSent())
	assert.False(t, result.EncounteredTrappedExceptions())
	assert.NoError(t, result.Err())

	released.await(t)
	assert.Equal(t, []receivedCall{{"memory://1.2.3.1", types.ExplicitVRLittleEndian, "STORESCU"}}, received.Calls())

	obj, ok := store.Get("1.2.3.1")
	require.True(t, ok)
	assert.Equal(t, ctObject("", "").DataSet, obj.DataSet)

	d.Shutdown()
	assert.False(t, d.IsReady())
	select {
	case <-d.Done():
	case <-time.After(waitTimeout):
		t.Fatal("dispatcher did not stop")
	}
}

func TestUnrecognizedTransferSyntaxIsTrapped(t *testing.T) {
	store := storage.NewMemoryStore()
	received := &recordingReceiver{}
	d := startStorageSCP(t, store, received)

	result, err := client.Send(context.Background(), d.Addr().String(), scuConfig(),
		ctObject("1.2.3.2", types.RLELossless))
	require.NoError(t, err)
	assert.True(t, result.EncounteredTrappedExceptions())
	assert.False(t, result.AllSent())
	require.Len(t, result.Files, 1)
	assert.Equal(t, client.OutcomeRejectedNoContext, result.Files[0].Outcome)
	assert.ErrorIs(t, result.Files[0].Err, dicomerrors.ErrNoPresentationCtx)

	require.Len(t, result.Contexts, 1)
	assert.Equal(t, types.TransferSyntaxesNotSupported, result.Contexts[0].Result)
	assert.Zero(t, store.Len())
	assert.Empty(t, received.Calls())
}

func TestLastRecognizedPolicyAcceptsCompressed(t *testing.T) {
	store := storage.NewMemoryStore()
	received := &recordingReceiver{}
	policy := negotiation.NewStoragePolicy(negotiation.WithTransferSyntaxPolicy(&negotiation.LastRecognizedPolicy{}))
	d := startStorageSCP(t, store, received, WithPolicy(policy))

	result, err := client.Send(context.Background(), d.Addr().String(), scuConfig(),
		ctObject("1.2.3.3", types.RLELossless))
	require.NoError(t, err)
	assert.True(t, result.AllSent())

	calls := received.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, types.RLELossless, calls[0].transferSyntax)
}

func TestSequentialDispatchersReusePort(t *testing.T) {
	first := NewStorageDispatcher("STORESCP", "127.0.0.1:0", storage.NewMemoryStore(), nil, WithLogger(quietLogger()))
	require.NoError(t, first.Start(context.Background()))
	address := first.Addr().String()

	_, err := client.Echo(context.Background(), address, scuConfig())
	require.NoError(t, err)

	first.Shutdown()
	require.False(t, first.IsReady())

	second := NewStorageDispatcher("STORESCP", address, storage.NewMemoryStore(), nil, WithLogger(quietLogger()))
	require.NoError(t, second.Start(context.Background()))
	defer second.Shutdown()
	assert.True(t, second.IsReady())

	rsp, err := client.Echo(context.Background(), address, scuConfig())
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), rsp.Status)

	first.Wait()
}

func TestMixedOutcomes(t *testing.T) {
	store := storage.NewMemoryStore()
	received := &recordingReceiver{}
	d := startStorageSCP(t, store, received)

	objects := []client.Object{
		ctObject("1.2.3.10", types.ExplicitVRLittleEndian),
		ctObject("1.2.3.11", types.RLELossless),
		ctObject("1.2.3.12", types.ImplicitVRLittleEndian),
		{Path: filepath.Join(t.TempDir(), "missing.dcm")},
	}
	cfg := scuConfig()
	cfg.SeparateTransferSyntaxContexts = true
	result, err := client.NewStorageSCU(cfg).Send(context.Background(), d.Addr().String(), objects)
	require.NoError(t, err)

	assert.Equal(t, client.OutcomeSent, result.Files[0].Outcome)
	assert.Equal(t, client.OutcomeRejectedNoContext, result.Files[1].Outcome)
	assert.Equal(t, client.OutcomeSent, result.Files[2].Outcome)
	assert.Equal(t, client.OutcomeFailed, result.Files[3].Outcome)
	assert.True(t, result.EncounteredTrappedExceptions())
	assert.Error(t, result.Err())
	assert.Equal(t, 2, store.Len())

	// the outcome of each object agrees with the negotiated contexts
	for _, f := range result.Files[:3] {
		accepted := false
		for _, pc := range result.Contexts {
			if pc.Accepted() && pc.AbstractSyntax == f.SOPClassUID && pc.TransferSyntax() == f.TransferSyntaxUID {
				accepted = true
			}
		}
		assert.Equal(t, accepted, f.Outcome == client.OutcomeSent, f.Name)
	}
}

func TestPart10FilesToDirectoryStore(t *testing.T) {
	dir := t.TempDir()
	idx, err := storage.OpenIndex(filepath.Join(dir, "index.db"))
	require.NoError(t, err)
	defer idx.Close()
	store, err := storage.NewDirectoryStore(filepath.Join(dir, "received"),
		storage.WithPathStrategy(storage.HierarchicalPathStrategy{}),
		storage.WithIndex(idx),
		storage.WithStoreLogger(quietLogger()))
	require.NoError(t, err)

	received := &recordingReceiver{}
	d := startStorageSCP(t, store, received)

	dataset := []byte{0x10, 0x00, 0x10, 0x00, 0x04, 0x00, 0x00, 0x00, 'D', 'O', 'E', ' '}
	source := filepath.Join(dir, "outgoing.dcm")
	require.NoError(t, os.WriteFile(source, dicom.EncodeFile(&dicom.FileMeta{
		MediaStorageSOPClassUID:    types.MRImageStorage,
		MediaStorageSOPInstanceUID: "1.2.3.20",
		TransferSyntaxUID:          types.ExplicitVRLittleEndian,
	}, dataset), 0o644))

	result, err := client.Send(context.Background(), d.Addr().String(), scuConfig(), client.FileObject(source))
	require.NoError(t, err)
	require.True(t, result.AllSent())

	calls := received.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, filepath.Join(dir, "received", "STORESCU", types.MRImageStorage, "1.2.3.20.dcm"), calls[0].path)

	stored, err := dicom.ReadFile(calls[0].path)
	require.NoError(t, err)
	assert.Equal(t, dataset, stored.DataSet)
	assert.Equal(t, "1.2.3.20", stored.Meta.MediaStorageSOPInstanceUID)

	record, err := idx.Get("1.2.3.20")
	require.NoError(t, err)
	assert.Equal(t, calls[0].path, record.Path)
}

func TestMaxAssociations(t *testing.T) {
	d := startStorageSCP(t, storage.NewMemoryStore(), nil, WithMaxAssociations(1))

	held, err := association.Dial(context.Background(), d.Addr().String(), association.RequestConfig{
		CallingAETitle: "HOLDER",
		CalledAETitle:  "STORESCP",
		PresentationContexts: []*types.PresentationContext{
			types.NewProposedContext(1, types.VerificationSOPClass, types.ImplicitVRLittleEndian),
		},
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	_, err = client.Echo(context.Background(), d.Addr().String(), scuConfig())
	var rejection *dicomerrors.AssociationError
	require.True(t, errors.As(err, &rejection), "got %v", err)
	assert.Equal(t, dicomerrors.RejectResultTransient, rejection.Result)
	assert.Equal(t, dicomerrors.RejectReasonLocalLimitExceeded, rejection.Reason)

	require.NoError(t, held.Release(context.Background()))

	require.Eventually(t, func() bool {
		_, err := client.Echo(context.Background(), d.Addr().String(), scuConfig())
		return err == nil
	}, waitTimeout, 20*time.Millisecond)
}

func TestUnsupportedCommandKeepsAssociation(t *testing.T) {
	d := startStorageSCP(t, storage.NewMemoryStore(), nil)

	assoc, err := association.Dial(context.Background(), d.Addr().String(), association.RequestConfig{
		CallingAETitle: "FINDSCU",
		CalledAETitle:  "STORESCP",
		PresentationContexts: []*types.PresentationContext{
			types.NewProposedContext(1, types.VerificationSOPClass, types.ImplicitVRLittleEndian),
		},
		Logger: quietLogger(),
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, assoc.SendMessage(ctx, 1, &types.Message{
		CommandField:        types.CFindRQ,
		MessageID:           1,
		AffectedSOPClassUID: types.VerificationSOPClass,
	}, []byte{0x08, 0x00, 0x52, 0x00, 0x00, 0x00, 0x00, 0x00}))
	msg, err := assoc.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(types.CFindRSP), msg.Command.CommandField)
	assert.Equal(t, uint16(types.StatusUnrecognizedOperation), msg.Command.Status)

	require.NoError(t, assoc.SendMessage(ctx, 1, &types.Message{
		CommandField:        types.CEchoRQ,
		MessageID:           2,
		AffectedSOPClassUID: types.VerificationSOPClass,
	}, nil))
	msg, err = assoc.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint16(types.StatusSuccess), msg.Command.Status)

	require.NoError(t, assoc.Release(ctx))
}

func TestShutdownIdempotent(t *testing.T) {
	d := NewStorageDispatcher("STORESCP", "127.0.0.1:0", storage.NewMemoryStore(), nil, WithLogger(quietLogger()))
	assert.False(t, d.IsReady())
	require.NoError(t, d.Start(context.Background()))

	d.Shutdown()
	d.Shutdown()
	d.Wait()
	assert.False(t, d.IsReady())
	assert.ErrorIs(t, d.Start(context.Background()), ErrAlreadyStarted)
}

func TestShutdownBeforeStart(t *testing.T) {
	d := NewStorageDispatcher("STORESCP", "127.0.0.1:0", storage.NewMemoryStore(), nil, WithLogger(quietLogger()))
	d.Shutdown()
	d.Wait()
	assert.ErrorIs(t, d.Run(context.Background()), ErrAlreadyStarted)
}

func TestRunStopsWithContext(t *testing.T) {
	d := NewStorageDispatcher("STORESCP", "127.0.0.1:0", storage.NewMemoryStore(), nil, WithLogger(quietLogger()))
	ctx, cancel := context.WithCancel(context.Background())

	errs := make(chan error, 1)
	go func() { errs <- d.Run(ctx) }()

	select {
	case <-d.Ready():
	case <-time.After(waitTimeout):
		t.Fatal("dispatcher not ready")
	}
	assert.True(t, d.IsReady())

	cancel()
	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(waitTimeout):
		t.Fatal("Run did not return")
	}
	assert.False(t, d.IsReady())
}

func TestBindFailure(t *testing.T) {
	first := startStorageSCP(t, storage.NewMemoryStore(), nil)
	second := NewStorageDispatcher("STORESCP", first.Addr().String(), storage.NewMemoryStore(), nil, WithLogger(quietLogger()))
	assert.Error(t, second.Start(context.Background()))
	assert.False(t, second.IsReady())
	second.Wait()
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	nextMetric:
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue nextMetric
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestDispatcherMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	require.NoError(t, err)
	released := make(releaseSignal, 1)
	d := startStorageSCP(t, storage.NewMemoryStore(), nil, WithMetrics(collector), WithStatusHandler(released))

	result, err := client.Send(context.Background(), d.Addr().String(), scuConfig(),
		ctObject("1.2.3.30", types.ExplicitVRLittleEndian))
	require.NoError(t, err)
	require.True(t, result.AllSent())
	released.await(t)

	d.Shutdown()
	d.Wait()

	assert.Equal(t, 1.0, counterValue(t, reg, "dicom_associations_accepted_total", nil))
	assert.Equal(t, 1.0, counterValue(t, reg, "dicom_associations_ended_total", map[string]string{"result": metrics.ResultReleased}))
	assert.Equal(t, 1.0, counterValue(t, reg, "dicom_objects_received_total", map[string]string{"status": "success"}))
	assert.Equal(t, 10.0, counterValue(t, reg, "dicom_received_bytes_total", nil))
}

// fixedStatusHandler answers every request with one status.
type fixedStatusHandler struct {
	status uint16
}

func (h fixedStatusHandler) HandleDIMSE(_ context.Context, msg *types.Message, _ []byte, _ interfaces.MessageContext) (*types.Message, []byte, error) {
	return &types.Message{
		CommandField:              types.ResponseCommandFor(msg.CommandField),
		MessageIDBeingRespondedTo: msg.MessageID,
		AffectedSOPClassUID:       msg.AffectedSOPClassUID,
		CommandDataSetType:        types.NoDataSet,
		Status:                    h.status,
	}, nil, nil
}

func TestStorageDispatcherAppliesOptionsOnce(t *testing.T) {
	calls := 0
	countOption := func(*Dispatcher) { calls++ }

	d := startStorageSCP(t, storage.NewMemoryStore(), nil,
		countOption,
		WithMaxAssociations(2),
		WithServiceHandler(types.CEchoRQ, fixedStatusHandler{status: 0x0001}))
	assert.Equal(t, 1, calls)

	// A handler given as an option replaces the built-in echo service.
	rsp, err := client.Echo(context.Background(), d.Addr().String(), scuConfig())
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0001), rsp.Status)

	// The store service is still registered.
	result, err := client.Send(context.Background(), d.Addr().String(), scuConfig(),
		ctObject("1.2.3.77", types.ExplicitVRLittleEndian))
	require.NoError(t, err)
	assert.True(t, result.AllSent())
}
