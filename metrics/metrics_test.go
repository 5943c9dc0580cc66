package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecordsAssociations(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.AssociationAccepted()
	c.AssociationAccepted()
	c.AssociationRejected()
	c.AssociationEnded(ResultReleased)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.associationsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.associationsRejected))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.associationsEnded.WithLabelValues(ResultReleased)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.associationsActive))
}

func TestCollectorRecordsObjects(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)

	c.ObjectReceived(0x0000, 100)
	c.ObjectReceived(0xA700, 50)
	c.ObjectReceived(0xB000, 10)
	c.ObserveStore(5 * time.Millisecond)
	c.ObjectSent("sent")
	c.ObjectSent("sent")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.objectsReceived.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.objectsReceived.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.objectsReceived.WithLabelValues("warning")))
	assert.Equal(t, 160.0, testutil.ToFloat64(c.bytesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.objectsSent.WithLabelValues("sent")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.storeLatency))
}

func TestCollectorDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewCollector(reg)
	require.NoError(t, err)
	_, err = NewCollector(reg)
	assert.Error(t, err)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.AssociationAccepted()
		c.AssociationRejected()
		c.AssociationEnded(ResultAborted)
		c.ObjectReceived(0, 1)
		c.ObserveStore(time.Second)
		c.ObjectSent("failed")
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCollector(reg)
	require.NoError(t, err)
	c.AssociationAccepted()

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dicom_associations_accepted_total 1")
}
