// Package packstream implements the PackStream typed-value codec used by the
// Bolt wire protocol: encode/decode for null, boolean, signed 64-bit integer,
// IEEE-754 double, UTF-8 string, list, map, and structure values.
package packstream

// Marker bytes. Values and tiering match original_source/asyncbolt's
// messaging.py Marker enum; container/struct tiers mirror the tiny/8/16/32
// scheme internal/rtmp/amf used for AMF0, generalized to PackStream's wider
// type universe.
const (
	markerNull    byte = 0xC0
	markerFloat64 byte = 0xC1
	markerFalse   byte = 0xC2
	markerTrue    byte = 0xC3

	markerInt8  byte = 0xC8
	markerInt16 byte = 0xC9
	markerInt32 byte = 0xCA
	markerInt64 byte = 0xCB

	markerTinyStringMin byte = 0x80
	markerTinyStringMax byte = 0x8F
	markerString8       byte = 0xD0
	markerString16      byte = 0xD1
	markerString32      byte = 0xD2

	markerTinyListMin byte = 0x90
	markerTinyListMax byte = 0x9F
	markerList8       byte = 0xD4
	markerList16      byte = 0xD5
	markerList32      byte = 0xD6

	markerTinyMapMin byte = 0xA0
	markerTinyMapMax byte = 0xAF
	markerMap8       byte = 0xD8
	markerMap16      byte = 0xD9
	markerMap32      byte = 0xDA

	markerTinyStructMin byte = 0xB0
	markerTinyStructMax byte = 0xBF
	markerStruct8       byte = 0xDC
	markerStruct16      byte = 0xDD

	// Tiny positive integers occupy the whole low range; tiny negative
	// integers are encoded as the plain two's-complement byte value, which
	// for -16..-1 lands in 0xF0..0xFF.
	tinyIntPositiveMax byte = 0x7F
	tinyIntNegativeMin byte = 0xF0
)

const (
	maxTinySize  = 15
	max8BitSize  = 255
	max16BitSize = 65535
	// Per spec.md §4.3/§7: strings and containers may not exceed 2^32-1
	// elements/bytes; anything larger is a fatal codec error.
	maxContainerSize = 1<<32 - 1
)
