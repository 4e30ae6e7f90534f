package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFactValidate_OK(t *testing.T) {
	f := ExtractedFact{ProductName: "SSD Kingston 1TB", Price: 350.00}
	assert.NoError(t, f.Validate())
}

func TestFactValidate_MissingProductName(t *testing.T) {
	f := ExtractedFact{Price: 10}
	assert.Error(t, f.Validate())
}

func TestFactValidate_NonPositivePrice(t *testing.T) {
	assert.Error(t, ExtractedFact{ProductName: "x", Price: 0}.Validate())
	assert.Error(t, ExtractedFact{ProductName: "x", Price: -2.5}.Validate())
}

func TestRawMessageFailed(t *testing.T) {
	assert.False(t, RawMessage{}.Failed())
	assert.False(t, RawMessage{Processed: true}.Failed())
	assert.True(t, RawMessage{Processed: true, ProcessingError: ErrReasonExtractionFailed}.Failed())
}

func TestSessionStatusConnected(t *testing.T) {
	assert.True(t, StatusConnected.Connected())
	assert.False(t, StatusDisconnected.Connected())
	assert.False(t, StatusPendingQR.Connected())
}
