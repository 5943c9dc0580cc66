package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseCommandFor(t *testing.T) {
	tests := []struct {
		request  uint16
		expected uint16
	}{
		{CStoreRQ, CStoreRSP},
		{CFindRQ, CFindRSP},
		{CMoveRQ, CMoveRSP},
		{CGetRQ, CGetRSP},
		{CEchoRQ, CEchoRSP},
		{0x0100, 0x8100},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ResponseCommandFor(tt.request), "request 0x%04x", tt.request)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status uint16
		want   StatusClass
	}{
		{StatusSuccess, StatusClassSuccess},
		{StatusPending, StatusClassPending},
		{StatusCancel, StatusClassCancel},
		{StatusCoercionOfDataElements, StatusClassWarning},
		{StatusElementsDiscarded, StatusClassWarning},
		{StatusOutOfResources, StatusClassFailure},
		{StatusDataSetDoesNotMatchSOPClass, StatusClassFailure},
		{StatusProcessingFailure, StatusClassFailure},
		{StatusFailure, StatusClassFailure},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyStatus(tt.status), "status 0x%04X", tt.status)
	}
}

func TestMessageFlags(t *testing.T) {
	rq := &Message{CommandField: CStoreRQ, CommandDataSetType: DataSetPresent}
	rsp := &Message{CommandField: CStoreRSP, CommandDataSetType: NoDataSet}

	assert.True(t, rq.HasDataSet())
	assert.False(t, rq.IsResponse())
	assert.False(t, rsp.HasDataSet())
	assert.True(t, rsp.IsResponse())
}
