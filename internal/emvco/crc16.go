package emvco

// Checksum computes CRC16/CCITT-FALSE (poly 0x1021, init 0xFFFF, no
// reflection, no final xor), the variant mandated for EMVCo QR payloads.
func Checksum(data string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(data); i++ {
		crc ^= uint16(data[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
