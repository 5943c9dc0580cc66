package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caio-sobreiro/dicomstore/association"
	"github.com/caio-sobreiro/dicomstore/dicom"
	dicomerrors "github.com/caio-sobreiro/dicomstore/errors"
	"github.com/caio-sobreiro/dicomstore/types"
)

func quietConfig() Config {
	return Config{CalledAETitle: "STORESCP", Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func memoryObject(class, instance, ts string) Object {
	return Object{SOPClassUID: class, SOPInstanceUID: instance, TransferSyntaxUID: ts, DataSet: []byte{0x08, 0x00, 0x16, 0x00}}
}

func resolvedAll(t *testing.T, objects ...Object) ([]resolved, []int) {
	t.Helper()
	items, err := resolveObjects(context.Background(), objects, 2)
	require.NoError(t, err)
	indexes := make([]int, len(items))
	for i := range items {
		require.NoError(t, items[i].err)
		indexes[i] = i
	}
	return items, indexes
}

func TestProposeContextsPerSOPClass(t *testing.T) {
	items, indexes := resolvedAll(t,
		memoryObject(types.CTImageStorage, "1", types.ExplicitVRLittleEndian),
		memoryObject(types.MRImageStorage, "2", types.ImplicitVRLittleEndian),
		memoryObject(types.CTImageStorage, "3", types.RLELossless),
		memoryObject(types.CTImageStorage, "4", types.ExplicitVRLittleEndian),
	)

	contexts, err := proposeContexts(items, indexes, false)
	require.NoError(t, err)
	require.Len(t, contexts, 2)
	assert.Equal(t, byte(1), contexts[0].ID)
	assert.Equal(t, types.CTImageStorage, contexts[0].AbstractSyntax)
	assert.Equal(t, []string{types.ExplicitVRLittleEndian, types.RLELossless}, contexts[0].TransferSyntaxes)
	assert.Equal(t, byte(3), contexts[1].ID)
	assert.Equal(t, []string{types.ImplicitVRLittleEndian}, contexts[1].TransferSyntaxes)
}

func TestProposeContextsPerTransferSyntax(t *testing.T) {
	items, indexes := resolvedAll(t,
		memoryObject(types.CTImageStorage, "1", types.ExplicitVRLittleEndian),
		memoryObject(types.CTImageStorage, "2", types.RLELossless),
		memoryObject(types.CTImageStorage, "3", types.ExplicitVRLittleEndian),
	)

	contexts, err := proposeContexts(items, indexes, true)
	require.NoError(t, err)
	require.Len(t, contexts, 2)
	assert.Equal(t, []string{types.ExplicitVRLittleEndian}, contexts[0].TransferSyntaxes)
	assert.Equal(t, []string{types.RLELossless}, contexts[1].TransferSyntaxes)
	assert.Equal(t, byte(3), contexts[1].ID)
}

func TestProposeContextsLimit(t *testing.T) {
	objects := make([]Object, types.MaxPresentationContexts+1)
	for i := range objects {
		objects[i] = memoryObject(fmt.Sprintf("1.2.840.10008.5.1.4.1.1.%d", 1000+i), fmt.Sprint(i), types.ExplicitVRLittleEndian)
	}
	items, indexes := resolvedAll(t, objects...)

	contexts, err := proposeContexts(items, indexes[:types.MaxPresentationContexts], false)
	require.NoError(t, err)
	assert.Equal(t, byte(255), contexts[len(contexts)-1].ID)

	_, err = proposeContexts(items, indexes, false)
	assert.ErrorIs(t, err, dicomerrors.ErrTooManyContexts)
}

func TestResolveObjectFromPart10(t *testing.T) {
	dataset := []byte{0x10, 0x00, 0x20, 0x00, 0x02, 0x00, 0x00, 0x00, 'I', 'D'}
	encoded := dicom.EncodeFile(&dicom.FileMeta{
		MediaStorageSOPClassUID:    types.SecondaryCaptureImageStorage,
		MediaStorageSOPInstanceUID: "1.2.3.99",
		TransferSyntaxUID:          types.ExplicitVRLittleEndian,
	}, dataset)

	path := filepath.Join(t.TempDir(), "sc.dcm")
	require.NoError(t, os.WriteFile(path, encoded, 0o644))

	fromFile, err := resolveObject(FileObject(path))
	require.NoError(t, err)
	assert.Equal(t, types.SecondaryCaptureImageStorage, fromFile.SOPClassUID)
	assert.Equal(t, "1.2.3.99", fromFile.SOPInstanceUID)
	assert.Equal(t, dataset, fromFile.DataSet)
	assert.Equal(t, path, fromFile.Name())

	fromBytes, err := resolveObject(Object{DataSet: encoded, SOPInstanceUID: "override"})
	require.NoError(t, err)
	assert.Equal(t, "override", fromBytes.SOPInstanceUID)
	assert.Equal(t, types.ExplicitVRLittleEndian, fromBytes.TransferSyntaxUID)
	assert.Equal(t, dataset, fromBytes.DataSet)
}

func TestResolveObjectUnidentifiable(t *testing.T) {
	_, err := resolveObject(Object{DataSet: []byte{1, 2}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no SOP class UID")
	assert.Contains(t, err.Error(), "no transfer syntax UID")

	_, err = resolveObject(FileObject(filepath.Join(t.TempDir(), "absent.dcm")))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSendResult(t *testing.T) {
	result := &SendResult{Files: []FileResult{
		{Name: "a", Outcome: OutcomeSent},
		{Name: "b", Outcome: OutcomeRejectedNoContext, Err: dicomerrors.ErrNoPresentationCtx},
	}}
	assert.False(t, result.AllSent())
	assert.True(t, result.EncounteredTrappedExceptions())
	assert.Equal(t, 1, result.Count(OutcomeSent))
	assert.ErrorIs(t, result.Err(), dicomerrors.ErrNoPresentationCtx)

	result.Files = result.Files[:1]
	assert.True(t, result.AllSent())
	assert.False(t, result.EncounteredTrappedExceptions())
	assert.NoError(t, result.Err())

	assert.False(t, (&SendResult{}).AllSent())
	assert.Equal(t, "rejected-no-context", OutcomeRejectedNoContext.String())
	assert.Equal(t, "transport-failure", OutcomeTransportFailure.String())
}

func TestSendConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := ln.Addr().String()
	require.NoError(t, ln.Close())

	result, err := Send(context.Background(), address, quietConfig(),
		memoryObject(types.CTImageStorage, "1.2.3", types.ExplicitVRLittleEndian))
	require.Error(t, err)
	var netErr *dicomerrors.NetworkError
	assert.True(t, errors.As(err, &netErr))
	require.NotNil(t, result)
	assert.Equal(t, OutcomeTransportFailure, result.Files[0].Outcome)
	assert.False(t, result.EncounteredTrappedExceptions())
}

func TestSendNothingSendable(t *testing.T) {
	result, err := Send(context.Background(), "127.0.0.1:1", quietConfig(), Object{DataSet: []byte{1}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, result.Files[0].Outcome)
	assert.True(t, result.EncounteredTrappedExceptions())

	_, err = Send(context.Background(), "127.0.0.1:1", quietConfig())
	assert.Error(t, err)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultCallingAETitle, cfg.CallingAETitle)
	assert.Equal(t, DefaultCalledAETitle, cfg.CalledAETitle)
	assert.Equal(t, DefaultConcurrency, cfg.Concurrency)
	assert.NotNil(t, cfg.Logger)
}

// abortingSCP accepts one association, stores the first object, then aborts
// as soon as the second C-STORE-RQ arrives.
func abortingSCP(t *testing.T) (string, <-chan struct{}) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		ctx := context.Background()
		assoc, err := association.Accept(ctx, conn, association.AcceptConfig{
			AETitle: "STORESCP",
			Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		})
		if err != nil {
			return
		}
		msg, err := assoc.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		_ = assoc.SendMessage(ctx, msg.ContextID, &types.Message{
			CommandField:              types.CStoreRSP,
			MessageIDBeingRespondedTo: msg.Command.MessageID,
			AffectedSOPClassUID:       msg.Command.AffectedSOPClassUID,
			AffectedSOPInstanceUID:    msg.Command.AffectedSOPInstanceUID,
			Status:                    types.StatusSuccess,
		}, nil)
		if _, err := assoc.ReceiveMessage(ctx); err != nil {
			return
		}
		_ = assoc.Abort()
	}()
	return ln.Addr().String(), done
}

func TestSendAbortedMidTransfer(t *testing.T) {
	address, done := abortingSCP(t)

	result, err := Send(context.Background(), address, quietConfig(),
		memoryObject(types.CTImageStorage, "1.2.3.1", types.ImplicitVRLittleEndian),
		memoryObject(types.CTImageStorage, "1.2.3.2", types.ImplicitVRLittleEndian),
		memoryObject(types.CTImageStorage, "1.2.3.3", types.ImplicitVRLittleEndian),
	)
	<-done

	var abortErr *dicomerrors.AbortError
	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, dicomerrors.AbortSourceServiceUser, abortErr.Source)

	require.NotNil(t, result)
	require.Len(t, result.Files, 3)
	assert.Equal(t, OutcomeSent, result.Files[0].Outcome)
	assert.Equal(t, uint16(types.StatusSuccess), result.Files[0].Status)
	assert.NoError(t, result.Files[0].Err)
	for _, f := range result.Files[1:] {
		assert.Equal(t, OutcomeTransportFailure, f.Outcome, f.Name)
		assert.ErrorAs(t, f.Err, &abortErr)
	}
	assert.False(t, result.AllSent())
	assert.Equal(t, 1, result.Count(OutcomeSent))
}
