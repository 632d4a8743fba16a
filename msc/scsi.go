package msc

import "encoding/binary"

// InquiryResponse is standard INQUIRY data.
type InquiryResponse struct {
	DeviceType uint8
	Removable  bool
	VendorID   [8]byte
	ProductID  [16]byte
	ProductRev [4]byte
}

// NewInquiryResponse builds INQUIRY data for a direct-access disk. The
// strings are space padded or truncated to their field widths.
func NewInquiryResponse(removable bool, vendor, product, revision string) InquiryResponse {
	r := InquiryResponse{DeviceType: DeviceTypeDisk, Removable: removable}
	padString(r.VendorID[:], vendor)
	padString(r.ProductID[:], product)
	padString(r.ProductRev[:], revision)
	return r
}

// MarshalTo writes the INQUIRY response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *InquiryResponse) MarshalTo(buf []byte) int {
	if len(buf) < InquiryStandardSize {
		return 0
	}
	clear(buf[:InquiryStandardSize])
	buf[0] = r.DeviceType
	if r.Removable {
		buf[1] = InquiryRMB
	}
	buf[2] = InquiryVersionSPC4
	buf[3] = InquiryResponseFormatSPC
	buf[4] = InquiryStandardSize - 5
	copy(buf[8:16], r.VendorID[:])
	copy(buf[16:32], r.ProductID[:])
	copy(buf[32:36], r.ProductRev[:])
	return InquiryStandardSize
}

// ReadCapacity10Response is the READ CAPACITY (10) parameter data.
type ReadCapacity10Response struct {
	LastLBA     uint32
	BlockLength uint32
}

// MarshalTo writes the response to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (r *ReadCapacity10Response) MarshalTo(buf []byte) int {
	if len(buf) < 8 {
		return 0
	}
	binary.BigEndian.PutUint32(buf[0:4], r.LastLBA)
	binary.BigEndian.PutUint32(buf[4:8], r.BlockLength)
	return 8
}

// Sense is a sense key with its additional sense code and qualifier.
type Sense struct {
	Key  uint8
	ASC  uint8
	ASCQ uint8
}

// MarshalTo writes fixed-format sense data to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (s Sense) MarshalTo(buf []byte) int {
	if len(buf) < SenseDataSize {
		return 0
	}
	clear(buf[:SenseDataSize])
	buf[0] = 0x70 // current error, fixed format
	buf[2] = s.Key & 0x0F
	buf[7] = SenseDataSize - 8
	buf[12] = s.ASC
	buf[13] = s.ASCQ
	return SenseDataSize
}

// modeSense6Header writes a MODE SENSE (6) header without block
// descriptors or mode pages.
func modeSense6Header(buf []byte) int {
	if len(buf) < 4 {
		return 0
	}
	buf[0] = 3 // mode data length, excluding this byte
	buf[1] = 0 // medium type
	buf[2] = 0 // device-specific parameter, not write protected
	buf[3] = 0 // block descriptor length
	return 4
}

// formatCapacities writes a READ FORMAT CAPACITIES list holding one
// current/maximum descriptor for formatted media.
func formatCapacities(buf []byte, blocks, blockSize uint32) int {
	if len(buf) < 12 {
		return 0
	}
	buf[0], buf[1], buf[2] = 0, 0, 0
	buf[3] = 8 // capacity list length
	binary.BigEndian.PutUint32(buf[4:8], blocks)
	buf[8] = 0x02 // formatted media
	buf[9] = uint8(blockSize >> 16)
	buf[10] = uint8(blockSize >> 8)
	buf[11] = uint8(blockSize)
	return 12
}

func padString(dst []byte, s string) {
	for i := range dst {
		if i < len(s) {
			dst[i] = s[i]
		} else {
			dst[i] = ' '
		}
	}
}
