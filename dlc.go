package peakcan

// fdLengths maps a DLC code to the number of payload bytes it carries.
var fdLengths = [16]int{0, 1, 2, 3, 4, 5, 6, 7, 8, 12, 16, 20, 24, 32, 48, 64}

// LenToDLC returns the smallest DLC code able to carry n bytes. Lengths
// between two representable sizes round up: 10 bytes need DLC 9, which
// carries 12.
func LenToDLC(n int) (uint8, error) {
	if n < 0 || n > MaxFDDataLen {
		return 0, ErrFrameTooLarge
	}
	for dlc, l := range fdLengths {
		if n <= l {
			return uint8(dlc), nil
		}
	}
	return 15, nil
}

// DLCToLen returns the payload size of a DLC code. Codes above 15 are
// treated as 15.
func DLCToLen(dlc uint8) int {
	if dlc > 15 {
		return MaxFDDataLen
	}
	return fdLengths[dlc]
}
