package classifier

import "strconv"

func fReason(label string, v float64) string {
	return label + ">" + formatFloat(v)
}

func fPercentReason(label string, v float64) string {
	return label + ">" + formatFloat(v) + "%"
}

func fMsReason(label string, v float64) string {
	return label + ">" + formatFloat(v) + "ms"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
