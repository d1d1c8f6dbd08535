package delivery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/arbor"
)

func TestInjectAddsScriptBeforeBodyClose(t *testing.T) {
	injector := NewInjector("https://collector.test/beacon", arbor.NewLogger())
	html := "<html><head><title>Report</title></head><body><h1>Hi</h1></body></html>"

	out := injector.Inject(html)
	assert.Contains(t, out, trackingMarker)
	assert.Contains(t, out, "https://collector.test/beacon")
	assert.Less(t, strings.Index(out, trackingMarker), strings.Index(out, "</body>"))
}

func TestInjectIsIdempotent(t *testing.T) {
	injector := NewInjector("https://collector.test/beacon", arbor.NewLogger())
	html := "<html><body><p>content</p></body></html>"

	once := injector.Inject(html)
	twice := injector.Inject(once)

	assert.Equal(t, once, twice)
	assert.Equal(t, 1, strings.Count(twice, trackingMarker))
}

func TestInjectWithoutBodyTag(t *testing.T) {
	injector := NewInjector("https://collector.test/beacon", arbor.NewLogger())

	out := injector.Inject("<p>fragment only</p>")
	assert.Contains(t, out, trackingMarker)
	assert.Equal(t, 1, strings.Count(out, trackingMarker))
}
