package enums

import "fmt"

// PaymentObjectStatus is the charge state stamped on a submission's payment object.
type PaymentObjectStatus string

const (
	PaymentObjectNotCharged   PaymentObjectStatus = "not charged"
	PaymentObjectCharged      PaymentObjectStatus = "charged"
	PaymentObjectChargeFailed PaymentObjectStatus = "charge failed"
)

var validPaymentObjectStatuses = []PaymentObjectStatus{
	PaymentObjectNotCharged,
	PaymentObjectCharged,
	PaymentObjectChargeFailed,
}

// String implements fmt.Stringer.
func (p PaymentObjectStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentObjectStatus.
func (p PaymentObjectStatus) IsValid() bool {
	for _, candidate := range validPaymentObjectStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether settlement has finished with this status.
func (p PaymentObjectStatus) IsTerminal() bool {
	return p == PaymentObjectCharged || p == PaymentObjectChargeFailed
}

// ParsePaymentObjectStatus converts raw input into a PaymentObjectStatus.
func ParsePaymentObjectStatus(value string) (PaymentObjectStatus, error) {
	for _, candidate := range validPaymentObjectStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment object status %q", value)
}
