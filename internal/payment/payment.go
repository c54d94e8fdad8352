// Package payment starts a payment for an appointment. It only reports
// whether the chosen method could be initiated; settlement is never
// observed.
package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/appointment-sync/internal/appointment"
)

var (
	ErrNoFee         = errors.New("no fee amount available for UPI payment")
	ErrUnknownMethod = errors.New("invalid payment method")
)

type Method string

const (
	MethodCash       Method = "cash"
	MethodUPI        Method = "upi"
	MethodNetBanking Method = "netbanking"
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodCash, MethodUPI, MethodNetBanking:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

var mobileUA = regexp.MustCompile(`(?i)Android|iPhone|iPad|iPod`)

// Device is what the flow knows about the browser asking to pay.
type Device struct {
	UserAgent string
}

func (d Device) Mobile() bool {
	return mobileUA.MatchString(d.UserAgent)
}

type Config struct {
	VPA           string
	MerchantName  string
	Currency      string
	NetBankingURL string
	QRImageURL    string
}

type Initiation struct {
	Method        Method            `json:"paymentMethod"`
	AppointmentID int64             `json:"appointmentId"`
	Message       string            `json:"message"`
	Redirect      string            `json:"redirect,omitempty"`
	OrderRef      string            `json:"orderRef,omitempty"`
	OpenDirect    bool              `json:"openDirect"`
	NewContext    bool              `json:"newContext"`
	QRImage       string            `json:"qrImage,omitempty"`
	Alternatives  map[string]string `json:"alternatives,omitempty"`
}

type Flow struct {
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

func NewFlow(cfg Config, logger zerolog.Logger) *Flow {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	return &Flow{
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "payment").Logger(),
	}
}

func (f *Flow) Initiate(ctx context.Context, rec appointment.Record, method Method, dev Device) (Initiation, error) {
	var (
		in  Initiation
		err error
	)
	switch method {
	case MethodCash:
		in = Initiation{
			Message: "Cash payment selected. Please pay at the clinic during your appointment.",
		}
	case MethodUPI:
		in, err = f.upi(rec, dev)
	case MethodNetBanking:
		in = Initiation{
			Message:    "Net banking opened in a new tab. Complete payment there.",
			Redirect:   f.cfg.NetBankingURL,
			NewContext: true,
		}
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
	if err != nil {
		f.logger.Info().Err(err).Int64("appointment_id", rec.ID).Str("method", string(method)).Msg("payment not initiated")
		return Initiation{}, err
	}

	in.Method = method
	in.AppointmentID = rec.ID
	f.logger.Info().Int64("appointment_id", rec.ID).Str("method", string(method)).Msg("payment initiated")
	return in, nil
}

func (f *Flow) upi(rec appointment.Record, dev Device) (Initiation, error) {
	if !rec.HasFee() {
		return Initiation{}, ErrNoFee
	}

	ref := fmt.Sprintf("APPT-%d-%d", rec.ID, f.now().UnixMilli())
	note := fmt.Sprintf("Appointment %d on %s at %s", rec.ID, rec.Date, rec.Time)
	params := intentParams(f.cfg.VPA, f.cfg.MerchantName, formatAmount(*rec.Fee), f.cfg.Currency, note, ref)

	in := Initiation{
		Message:  "UPI payment initiated. Complete the payment in your UPI app.",
		Redirect: "upi://pay?" + params,
		OrderRef: ref,
		Alternatives: map[string]string{
			"phonepe": "phonepe://pay?" + params,
			"gpay":    "tez://upi/pay?" + params,
		},
	}
	if dev.Mobile() {
		in.OpenDirect = true
	} else {
		in.QRImage = f.cfg.QRImageURL
		in.Message = "UPI works best on mobile. Scan the QR code or open this page on your phone."
	}
	return in, nil
}

// intentParams keeps the pa, pn, am, cu, tn, tr order wallets expect;
// url.Values would sort the keys.
func intentParams(vpa, name, amount, currency, note, ref string) string {
	pairs := [][2]string{
		{"pa", vpa}, {"pn", name}, {"am", amount}, {"cu", currency}, {"tn", note}, {"tr", ref},
	}
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p[0]+"="+componentEscape(p[1]))
	}
	return strings.Join(parts, "&")
}

func componentEscape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FeeLabel renders a fee for display, "N/A" when absent or not positive.
func FeeLabel(rec appointment.Record, symbol string) string {
	if !rec.HasFee() {
		return "N/A"
	}
	return symbol + formatAmount(*rec.Fee)
}
