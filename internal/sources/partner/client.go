// Package partner provides a client for the partner booking API, which
// lists a member's cars together with their reservations.
package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/agentstation/fleethold/internal/transport"
	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/logging"
)

// DefaultBaseURL is the production partner API.
const DefaultBaseURL = "http://www.takamol.com/api/TakamolMobileApi"

const bookingPath = "CarsOnlineBooking_API"

// ExtraMemberNo is the Extra key holding the partner member number.
const ExtraMemberNo = "member_no"

// Car is a car as listed by the partner API.
type Car struct {
	CarNo        flexString      `json:"CarNo"`
	CarName      flexString      `json:"CarName"`
	Model        flexString      `json:"Model"`
	CarKey       flexString      `json:"CarKey"`
	MemberNo     flexString      `json:"MemberNo"`
	Reservations json.RawMessage `json:"Reservations"`
}

// flexString accepts a JSON string, number or null.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// Client fetches one member's cars from the partner API.
type Client struct {
	transport *transport.Client
	apiKey    string
	memberNo  string
	pageSize  int
}

// NewClient creates a partner client. The API key is sent both as a
// bearer token and as the MemberAPIKey parameter.
func NewClient(baseURL, apiKey, memberNo string, opts ...transport.Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		transport: transport.New(constants.SourcePartner, baseURL, &transport.BearerAuth{}, apiKey, opts...),
		apiKey:    apiKey,
		memberNo:  memberNo,
		pageSize:  constants.PartnerPageSize,
	}
}

// ID implements sources.Source.
func (c *Client) ID() string { return constants.SourcePartner }

// Fetch implements sources.Source. A car whose reservations are not a
// list is kept without reservations.
func (c *Client) Fetch(ctx context.Context) ([]fleet.ForeignRecord, error) {
	logger := logging.FromContext(ctx)

	cars, err := c.ListCars(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]fleet.ForeignRecord, 0, len(cars))
	for _, car := range cars {
		rec, err := ToRecord(car)
		if err != nil {
			var parseErr *errors.ParseError
			if !errors.As(err, &parseErr) || parseErr.Format != "payload" {
				return nil, err
			}
			logger.Warn().
				Err(err).
				Str("car_key", rec.Key).
				Str("plate", rec.PlateNumber).
				Msg("Malformed reservations, treating as none")
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListCars retrieves every car with its reservations, page by page until
// an empty page.
func (c *Client) ListCars(ctx context.Context) ([]Car, error) {
	logger := logging.FromContext(ctx)

	var cars []Car
	for page := 1; page <= constants.MaxPages; page++ {
		resp, err := c.transport.Get(ctx, bookingPath, c.query(page))
		if err != nil {
			return nil, errors.WrapResource("fetch", "partner cars", "page "+strconv.Itoa(page), err)
		}
		var result []Car
		if err := transport.DecodeResponse(resp, constants.SourcePartner, &result); err != nil {
			return nil, errors.WrapResource("fetch", "partner cars", "page "+strconv.Itoa(page), err)
		}
		if len(result) == 0 {
			break
		}
		logger.Debug().Int("page", page).Int("cars", len(result)).Msg("Fetched partner page")
		cars = append(cars, result...)
	}

	logger.Info().Str("member_no", c.memberNo).Int("cars", len(cars)).Msg("Fetched partner cars")
	return cars, nil
}

func (c *Client) query(page int) url.Values {
	return url.Values{
		"MemberAPIKey":             {c.apiKey},
		"CountryNo":                {"0"},
		"AreaNo":                   {"0"},
		"MemberNo":                 {c.memberNo},
		"CarName":                  {""},
		"DailyPriceFrom":           {"0"},
		"DailyPriceTo":             {"0"},
		"ModelFrom":                {"0"},
		"ModelTo":                  {"0"},
		"ReservationStatus":        {"0"},
		"ReadCarPictures":          {"0"},
		"ReadReservations":         {"1"},
		"ReadReservationDocuments": {"1"},
		"Language":                 {"E"},
		"PageNumber":               {strconv.Itoa(page)},
		"PageSize":                 {strconv.Itoa(c.pageSize)},
	}
}

// ToRecord converts a partner car to a foreign record keyed by CarKey.
// When the reservations payload is malformed the record is still returned,
// without reservations, together with a "payload" ParseError.
func ToRecord(car Car) (fleet.ForeignRecord, error) {
	model := strings.TrimSpace(string(car.Model))
	reservations, err := fleet.ParsePayload(string(car.Reservations))
	return fleet.ForeignRecord{
		Source:       constants.SourcePartner,
		Key:          string(car.CarKey),
		PlateNumber:  string(car.CarNo),
		VehicleType:  string(car.CarName),
		ModelYear:    fleet.ParseModelYear(model),
		Reservations: reservations,
		Extra: map[string]string{
			fleet.ExtraModel: model,
			ExtraMemberNo:    string(car.MemberNo),
		},
	}, err
}
