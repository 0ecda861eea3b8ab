package negotiate

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
)

const (
	DefaultMaxBitrate = 40000000

	patchFmtp = "96 level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f"
)

// PatchSDP rewrites the offer's video sections: every VP8/VP9 rtpmap gets
// a fixed fmtp line after it, and the first rtcp-fb that follows such a
// rtpmap gets a max-bitrate line, after which patching stops.
func PatchSDP(raw string, maxBitrate int) (string, error) {
	if maxBitrate <= 0 {
		maxBitrate = DefaultMaxBitrate
	}
	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("parse sdp: %w", err)
	}

	fmtpAdded := false
	done := false
	for _, media := range desc.MediaDescriptions {
		if done {
			break
		}
		if media.MediaName.Media != "video" {
			continue
		}
		attrs := make([]sdp.Attribute, 0, len(media.Attributes)+2)
		for i, attr := range media.Attributes {
			attrs = append(attrs, attr)
			if attr.Key == "rtpmap" && isVPx(attr.Value) {
				attrs = append(attrs, sdp.Attribute{Key: "fmtp", Value: patchFmtp})
				fmtpAdded = true
				continue
			}
			if attr.Key == "rtcp-fb" && fmtpAdded {
				attrs = append(attrs, sdp.Attribute{Key: "max-bitrate", Value: strconv.Itoa(maxBitrate)})
				attrs = append(attrs, media.Attributes[i+1:]...)
				done = true
				break
			}
		}
		media.Attributes = attrs
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("marshal sdp: %w", err)
	}
	return string(out), nil
}

// isVPx matches rtpmap values like "96 VP8/90000".
func isVPx(v string) bool {
	_, codec, ok := strings.Cut(v, " ")
	if !ok {
		return false
	}
	name, _, _ := strings.Cut(codec, "/")
	return strings.EqualFold(name, "VP8") || strings.EqualFold(name, "VP9")
}
