// Package connection describes what is known about a client's environment:
// its network quality and whether it can render WebP images.
package connection

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// EffectiveType is a coarse network-quality classification.
type EffectiveType string

const (
	EffectiveTypeUnknown EffectiveType = ""
	EffectiveTypeSlow2G  EffectiveType = "slow-2g"
	EffectiveType2G      EffectiveType = "2g"
	EffectiveType3G      EffectiveType = "3g"
	EffectiveType4G      EffectiveType = "4g"
)

// Slow reports whether t is one of the two slowest tiers.
func (t EffectiveType) Slow() bool {
	return t == EffectiveTypeSlow2G || t == EffectiveType2G
}

// NetworkInfo mirrors the network-information signal a client exposes.
type NetworkInfo struct {
	EffectiveType EffectiveType
	// Downlink is the estimated bandwidth in megabits per second; zero when unknown.
	Downlink float64
	SaveData bool
}

// Capabilities abstracts environment feature detection.
type Capabilities interface {
	// Network returns the current network information and whether any
	// signal was available at all.
	Network() (NetworkInfo, bool)
	// SupportsWebP reports whether the client can render WebP.
	SupportsWebP() bool
}

// Fixed is a Capabilities with preset answers.
type Fixed struct {
	Info   *NetworkInfo
	NoWebP bool
}

// Network returns the preset information, if any.
func (f Fixed) Network() (NetworkInfo, bool) {
	if f.Info == nil {
		return NetworkInfo{}, false
	}
	return *f.Info, true
}

// SupportsWebP returns the preset WebP support.
func (f Fixed) SupportsWebP() bool {
	return !f.NoWebP
}

// Adequate reports whether a connection is good enough to fetch many assets
// at once: downlink above 1.5 Mbps, no data saver and not a slow tier. An
// absent signal, or an unknown downlink, is assumed adequate.
func Adequate(c Capabilities) bool {
	if c == nil {
		return true
	}
	info, ok := c.Network()
	if !ok {
		return true
	}
	if info.SaveData || info.EffectiveType.Slow() {
		return false
	}
	return info.Downlink == 0 || info.Downlink > 1.5
}

// HeaderCapabilities reads capabilities from HTTP Client Hints (ECT,
// Downlink, Save-Data) and the Accept header.
type HeaderCapabilities struct {
	header http.Header

	webpOnce sync.Once
	webp     bool
}

// FromHeaders builds capabilities for one request.
func FromHeaders(h http.Header) *HeaderCapabilities {
	return &HeaderCapabilities{header: h}
}

// Network parses the client hints. It reports false when none are present.
func (c *HeaderCapabilities) Network() (NetworkInfo, bool) {
	var info NetworkInfo
	found := false

	if ect := strings.ToLower(strings.TrimSpace(c.header.Get("ECT"))); ect != "" {
		info.EffectiveType = EffectiveType(ect)
		found = true
	}
	if raw := strings.TrimSpace(c.header.Get("Downlink")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 {
			info.Downlink = v
			found = true
		}
	}
	if strings.EqualFold(strings.TrimSpace(c.header.Get("Save-Data")), "on") {
		info.SaveData = true
		found = true
	}
	return info, found
}

// SupportsWebP probes the Accept header once and memoizes the answer.
func (c *HeaderCapabilities) SupportsWebP() bool {
	c.webpOnce.Do(func() {
		for _, v := range c.header.Values("Accept") {
			if strings.Contains(v, "image/webp") {
				c.webp = true
				return
			}
		}
	})
	return c.webp
}
