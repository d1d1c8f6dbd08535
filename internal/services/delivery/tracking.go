// -----------------------------------------------------------------------
// Tracking Injector
// Idempotent tracking-script injection for HTML deliverables
// -----------------------------------------------------------------------

package delivery

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
)

// trackingMarker identifies an already-injected script.
const trackingMarker = "Lead Magnet Tracking Script"

// Injector implements interfaces.TrackingInjector.
type Injector struct {
	script string
	logger arbor.ILogger
}

// NewInjector creates a tracking injector. endpoint is the collector URL
// the script reports to.
func NewInjector(endpoint string, logger arbor.ILogger) *Injector {
	script := `<!-- ` + trackingMarker + ` -->
<script>
(function() {
  var payload = {
    url: window.location.href,
    referrer: document.referrer,
    ts: new Date().toISOString()
  };
  try {
    navigator.sendBeacon('` + endpoint + `', JSON.stringify(payload));
  } catch (e) {}
})();
</script>`
	return &Injector{script: script, logger: logger}
}

// Inject adds the tracking script before </body> when absent. Calling it
// on already-injected HTML returns the input unchanged.
func (i *Injector) Inject(html string) string {
	if strings.Contains(html, trackingMarker) {
		return html
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		i.logger.Warn().Err(err).Msg("Failed to parse HTML for tracking injection")
		return fallbackInject(html, i.script)
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		return fallbackInject(html, i.script)
	}
	body.AppendHtml(i.script)

	out, err := doc.Html()
	if err != nil {
		i.logger.Warn().Err(err).Msg("Failed to render HTML after tracking injection")
		return fallbackInject(html, i.script)
	}
	return out
}

// fallbackInject splices before </body> textually, appending at the end
// when no body tag exists.
func fallbackInject(html, script string) string {
	lower := strings.ToLower(html)
	if idx := strings.LastIndex(lower, "</body>"); idx >= 0 {
		return html[:idx] + script + "\n" + html[idx:]
	}
	return html + "\n" + script
}
