package symbol

import "strings"

type OANDAConverter struct{}

func (OANDAConverter) ToExchange(internal string) string {
	if sym := Parse(internal); sym.Base != "" {
		return sym.OANDA()
	}
	return strings.ToUpper(strings.TrimSpace(internal))
}

func (OANDAConverter) FromExchange(raw string) string {
	return Parse(raw).Internal()
}

func (OANDAConverter) Format() Format {
	return FormatOANDA
}

var OANDA = OANDAConverter{}
