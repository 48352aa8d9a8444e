package media

import (
	"github.com/illmade-knight/go-assetedge/pkg/connection"
)

// Quality tiers chosen by connection.
const (
	QualityConstrained = 50
	QualityModerate    = 70
	QualityFull        = 85

	WidthCapConstrained = 800
	WidthCapModerate    = 1200

	// moderateDownlink is the bandwidth, in Mbps, below which a connection
	// is treated as moderate.
	moderateDownlink = 5
)

// ResolveOptions tune a single URL resolution.
type ResolveOptions struct {
	// TargetWidth is the rendered width. Zero leaves the width to the host.
	TargetWidth int
	// DisableWebP forces JPEG even on clients that render WebP.
	DisableWebP bool
}

// PlanTransform picks quality, width and format for a client. A nil caps or
// one without any network signal is treated as a good connection.
func PlanTransform(caps connection.Capabilities, opts ResolveOptions) Transform {
	t := Transform{Quality: QualityFull, Width: opts.TargetWidth, Format: FormatJPEG}

	if caps != nil {
		if info, ok := caps.Network(); ok {
			switch {
			case info.SaveData || info.EffectiveType.Slow():
				t.Quality = QualityConstrained
				t.Width = capWidth(opts.TargetWidth, WidthCapConstrained)
			case info.EffectiveType == connection.EffectiveType3G ||
				(info.Downlink > 0 && info.Downlink < moderateDownlink):
				t.Quality = QualityModerate
				t.Width = capWidth(opts.TargetWidth, WidthCapModerate)
			}
		}
	}

	if !opts.DisableWebP && (caps == nil || caps.SupportsWebP()) {
		t.Format = FormatWebP
	}
	return t
}

// capWidth returns min(target, limit), using limit when target is unset.
func capWidth(target, limit int) int {
	if target <= 0 || target > limit {
		return limit
	}
	return target
}

// Optimizer resolves connection-adapted asset URLs.
type Optimizer struct {
	urls *URLBuilder
}

// NewOptimizer creates an optimizer over a URL builder.
func NewOptimizer(urls *URLBuilder) *Optimizer {
	return &Optimizer{urls: urls}
}

// ResolveURL returns the URL of the rendition of asset best suited to caps.
// It never fails: missing signals fall back to full quality.
func (o *Optimizer) ResolveURL(asset Asset, caps connection.Capabilities, opts ResolveOptions) string {
	t := PlanTransform(caps, opts)
	return o.urls.PublicURL(asset.StoragePath, &t)
}
