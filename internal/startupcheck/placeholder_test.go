package startupcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPlaceholders(t *testing.T) {
	body := "Hello ((requesterName)), lease ((leaseId)) in (( region )) expires. Again: ((leaseId))."

	assert.Equal(t, []string{"requesterName", "leaseId", "region"}, ExtractPlaceholders(body))
}

func TestExtractPlaceholdersIgnoresMalformedMarkers(t *testing.T) {
	body := "single (paren) and (half (( open and ((two words)) stay out, ((valid_one)) stays in"

	assert.Equal(t, []string{"valid_one"}, ExtractPlaceholders(body))
}

func TestRender(t *testing.T) {
	body := "Hello ((name)), your lease (( leaseId )) expires ((when))."
	rendered := Render(body, map[string]string{"name": "Sam", "leaseId": "lease-42"})

	assert.Equal(t, "Hello Sam, your lease lease-42 expires ((when)).", rendered)
}
