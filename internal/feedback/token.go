// Package feedback builds and reads the false-alert tokens embedded in outbound alerts.
package feedback

import (
	"fmt"
	"strings"
)

// Prefix starts every false-alert token. Downstream feedback handlers match on it.
const Prefix = "false_alert_"

// Encode returns false_alert_<imageID>_<meta>. It is a pure function of its inputs.
func Encode(imageID fmt.Stringer, meta string) string {
	return EncodeString(imageID.String(), meta)
}

// EncodeString is Encode for an image id that is already rendered.
func EncodeString(imageID, meta string) string {
	return Prefix + imageID + "_" + meta
}

// Parse recovers the image id and meta from a token.
// The meta field is taken after the last underscore, so it must not contain one.
func Parse(token string) (imageID, meta string, ok bool) {
	rest, found := strings.CutPrefix(token, Prefix)
	if !found {
		return "", "", false
	}
	sep := strings.LastIndex(rest, "_")
	if sep <= 0 {
		return "", "", false
	}
	return rest[:sep], rest[sep+1:], true
}
