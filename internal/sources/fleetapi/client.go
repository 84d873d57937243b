// Package fleetapi provides a client for the internal fleet leasing API:
// car and model listings, the bookings timetable and hold tags.
package fleetapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/agentstation/fleethold/internal/transport"
	"github.com/agentstation/fleethold/pkg/constants"
	"github.com/agentstation/fleethold/pkg/errors"
	"github.com/agentstation/fleethold/pkg/fleet"
	"github.com/agentstation/fleethold/pkg/logging"
)

// DefaultBaseURL is the production fleet API.
const DefaultBaseURL = "https://drive.yango.tech"

// API paths.
const (
	carsPath      = "api/leasing/car/list"
	modelsPath    = "api/leasing/models/list"
	timetablePath = "api/leasing/rental/timetable"
	tagPath       = "api/leasing/car/tag/add"
)

// DuplicateTag is the tag placed on cars recognized as duplicates.
const DuplicateTag = "fake_car"

// Response structures for the fleet API.
type carsResponse struct {
	Cars []Car `json:"cars"`
}

type modelsResponse struct {
	Models []Model `json:"models"`
}

type timetableResponse struct {
	OffersTimetable map[string][]timetableItem `json:"offers_timetable"`
}

type timetableItem struct {
	Since       int64  `json:"since"`
	Until       int64  `json:"until"`
	StatusTitle string `json:"status_title"`
}

type timetableRequest struct {
	Since   int64  `json:"since"`
	Until   int64  `json:"until"`
	Timeout string `json:"timeout"`
	Lang    string `json:"lang"`
}

// Car is a car as listed by the fleet API.
type Car struct {
	ID      string            `json:"id" yaml:"id"`
	Number  string            `json:"number" yaml:"number"`
	ModelID string            `json:"model_id" yaml:"model_id"`
	Status  string            `json:"status,omitempty" yaml:"status,omitempty"`
	Specs   []fleet.ModelSpec `json:"model_specifications,omitempty" yaml:"model_specifications,omitempty"`
}

// Model is a car model as listed by the fleet API.
type Model struct {
	Code         string `json:"code" yaml:"code"`
	Manufacturer string `json:"manufacturer" yaml:"manufacturer"`
	ShortName    string `json:"short_name" yaml:"short_name"`
	Name         string `json:"name" yaml:"name"`
}

// Hold is a hold tag request for one car.
type Hold struct {
	CarID   string
	Since   time.Time
	Until   time.Time
	Comment string
}

type holdRequest struct {
	CarID   string `json:"car_id"`
	Since   int64  `json:"since,omitempty"`
	Until   int64  `json:"until,omitempty"`
	Comment string `json:"hold_comment,omitempty"`
}

// TagResponse is the fleet API answer to a tag request.
type TagResponse struct {
	TaggedObjects []json.RawMessage `json:"tagged_objects"`
}

// Client talks to the fleet API on behalf of one company.
type Client struct {
	transport *transport.Client
	clock     func() time.Time
}

// NewClient creates a client authenticated with the company's bearer token.
func NewClient(baseURL, token string, opts ...transport.Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		transport: transport.New(constants.SourceFleet, baseURL, &transport.BearerAuth{}, token, opts...),
		clock:     time.Now,
	}
}

// WithClock replaces the clock used for the bookings window.
func (c *Client) WithClock(clock func() time.Time) *Client {
	if clock != nil {
		c.clock = clock
	}
	return c
}

// ListCars retrieves every car page by page until an empty page.
func (c *Client) ListCars(ctx context.Context) ([]Car, error) {
	logger := logging.FromContext(ctx)

	var cars []Car
	for page := 1; page <= constants.MaxPages; page++ {
		query := url.Values{
			"page_number": {strconv.Itoa(page)},
			"page_size":   {strconv.Itoa(constants.FleetPageSize)},
			"lang":        {constants.DefaultLanguage},
		}
		resp, err := c.transport.Do(ctx, http.MethodPost, carsPath, query, nil)
		if err != nil {
			return nil, errors.WrapResource("fetch", "cars", "page "+strconv.Itoa(page), err)
		}
		var result carsResponse
		if err := transport.DecodeResponse(resp, constants.SourceFleet, &result); err != nil {
			return nil, errors.WrapResource("fetch", "cars", "page "+strconv.Itoa(page), err)
		}
		if len(result.Cars) == 0 {
			break
		}
		logger.Debug().Int("page", page).Int("cars", len(result.Cars)).Msg("Fetched car page")
		cars = append(cars, result.Cars...)
	}

	logger.Info().Int("cars", len(cars)).Msg("Fetched fleet cars")
	return cars, nil
}

// ListModels retrieves the model catalog.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	resp, err := c.transport.Get(ctx, modelsPath, url.Values{"lang": {constants.DefaultLanguage}})
	if err != nil {
		return nil, errors.WrapResource("fetch", "models", "", err)
	}
	var result modelsResponse
	if err := transport.DecodeResponse(resp, constants.SourceFleet, &result); err != nil {
		return nil, errors.WrapResource("fetch", "models", "", err)
	}
	logging.FromContext(ctx).Info().Int("models", len(result.Models)).Msg("Fetched fleet models")
	return result.Models, nil
}

// Bookings retrieves the bookings timetable from ten days ago to eighty
// days ahead, indexed by car id.
func (c *Client) Bookings(ctx context.Context) (fleet.Bookings, error) {
	now := c.clock()
	body := timetableRequest{
		Since:   now.Add(-constants.BookingLookback).Unix(),
		Until:   now.Add(constants.BookingLookahead).Unix(),
		Timeout: strconv.Itoa(constants.HoldRequestTimeout),
		Lang:    constants.DefaultLanguage,
	}
	resp, err := c.transport.PostJSON(ctx, timetablePath, nil, body)
	if err != nil {
		return nil, errors.WrapResource("fetch", "bookings", "", err)
	}
	var result timetableResponse
	if err := transport.DecodeResponse(resp, constants.SourceFleet, &result); err != nil {
		return nil, errors.WrapResource("fetch", "bookings", "", err)
	}

	bookings := fleet.Bookings{}
	total := 0
	for carID, items := range result.OffersTimetable {
		for _, item := range items {
			bookings.Add(fleet.BookingWindow{
				VehicleID: carID,
				Since:     time.Unix(item.Since, 0),
				Until:     time.Unix(item.Until, 0),
				Status:    item.StatusTitle,
			})
			total++
		}
	}
	logging.FromContext(ctx).Info().Int("bookings", total).Int("cars", len(bookings)).Msg("Fetched fleet bookings")
	return bookings, nil
}

// PlaceHold tags a car with tagName for the hold window. A 409 answer is
// returned as an error matching errors.ErrAlreadyHeld.
func (c *Client) PlaceHold(ctx context.Context, tagName string, h Hold) (*TagResponse, error) {
	return c.tag(ctx, tagName, holdRequest{
		CarID:   h.CarID,
		Since:   Microseconds(h.Since),
		Until:   Microseconds(h.Until),
		Comment: h.Comment,
	})
}

// TagDuplicate marks a car as a duplicate record.
func (c *Client) TagDuplicate(ctx context.Context, carID string) (*TagResponse, error) {
	return c.tag(ctx, DuplicateTag, holdRequest{CarID: carID})
}

func (c *Client) tag(ctx context.Context, tagName string, body holdRequest) (*TagResponse, error) {
	query := url.Values{
		"tag_name": {tagName},
		"timeout":  {strconv.Itoa(constants.HoldRequestTimeout)},
		"lang":     {constants.DefaultLanguage},
	}
	resp, err := c.transport.PostJSON(ctx, tagPath, query, body)
	if err != nil {
		return nil, err
	}
	var result TagResponse
	if err := transport.DecodeResponse(resp, constants.SourceFleet, &result); err != nil {
		return nil, err
	}
	if len(result.TaggedObjects) == 0 {
		return nil, errors.NewResourceError("place", "tag "+tagName, body.CarID, errors.New("response has no tagged objects"))
	}
	return &result, nil
}

// Microseconds returns t as a Unix timestamp in microseconds truncated to
// the second.
func Microseconds(t time.Time) int64 {
	return t.Unix() * int64(time.Second/time.Microsecond)
}
