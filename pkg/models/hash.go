package models

import (
	"sort"
	"strconv"
	"strings"
)

// InputsHash fingerprints the ambient room and scanner sets. A prediction
// model is valid only while the hash computed at training time matches the
// current one. The hash is a pure function of the id multisets and is
// invariant under reordering: sorted room id strings, a "|" separator, then
// sorted scanner id strings, joined with ".".
func InputsHash(rooms []Room, scanners []Scanner) string {
	roomIDs := make([]string, len(rooms))
	for i, r := range rooms {
		roomIDs[i] = strconv.FormatInt(r.ID, 10)
	}
	scannerIDs := make([]string, len(scanners))
	for i, s := range scanners {
		scannerIDs[i] = strconv.FormatInt(s.ID, 10)
	}
	sort.Strings(roomIDs)
	sort.Strings(scannerIDs)

	parts := make([]string, 0, len(roomIDs)+len(scannerIDs)+1)
	parts = append(parts, roomIDs...)
	parts = append(parts, "|")
	parts = append(parts, scannerIDs...)
	return strings.Join(parts, ".")
}
