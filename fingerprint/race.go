package fingerprint

import (
	"context"
	"time"
)

// ResourceProbeTimeout bounds the agent-extension resource race.
const ResourceProbeTimeout = time.Second

// resourceCandidates are the paths probed under chrome-extension://<ID>/.
var resourceCandidates = []string{
	"images/icon128.png",
	"images/icon48.png",
	"assets/icon.png",
	"icon.png",
}

// ResourceProber attempts to load one chrome-extension:// resource URL,
// reporting whether the load succeeded. It is the only place the
// fingerprint package reaches back out to the page/browser layer.
type ResourceProber interface {
	ProbeResource(ctx context.Context, url string) (bool, error)
}

// RaceExtensionResource launches one probe per candidate resource
// concurrently and resolves positive on the first successful load,
// negative once every candidate has failed or ResourceProbeTimeout elapses.
// Each probe asks the page for one URL at a time; the race itself runs
// here, not in the page.
func RaceExtensionResource(ctx context.Context, extensionID string, prober ResourceProber) bool {
	ctx, cancel := context.WithTimeout(ctx, ResourceProbeTimeout)
	defer cancel()

	results := make(chan bool, len(resourceCandidates))
	for _, path := range resourceCandidates {
		url := "chrome-extension://" + extensionID + "/" + path
		go func(url string) {
			ok, err := prober.ProbeResource(ctx, url)
			if err != nil {
				ok = false
			}
			results <- ok
		}(url)
	}

	remaining := len(resourceCandidates)
	for remaining > 0 {
		select {
		case ok := <-results:
			if ok {
				return true
			}
			remaining--
		case <-ctx.Done():
			return false
		}
	}
	return false
}
