package server

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"

	"github.com/casamap/plaquemap/internal/config"
	"github.com/casamap/plaquemap/internal/engine"
	"github.com/casamap/plaquemap/internal/geo"
	"github.com/casamap/plaquemap/internal/geoloc"
	"github.com/casamap/plaquemap/internal/selection"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// clientMessage is one event from the browser views.
//
//	filter          {q, theme, period}
//	sort            {enabled}
//	locate          {}
//	position        {lng, lat}        reply to locate_request
//	position_error  {code}            reply to locate_request
//	select          {id}              list-item activation
//	click           {lng, lat}        map-marker activation
type clientMessage struct {
	Type    string  `json:"type"`
	Query   string  `json:"q,omitempty"`
	Theme   string  `json:"theme,omitempty"`
	Period  string  `json:"period,omitempty"`
	Enabled bool    `json:"enabled,omitempty"`
	ID      string  `json:"id,omitempty"`
	Lng     float64 `json:"lng,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Code    string  `json:"code,omitempty"`
}

type resultsMessage struct {
	Type    string         `json:"type"`
	Total   int            `json:"total"`
	Matched int            `json:"matched"`
	Items   []plaqueResult `json:"items"`
}

type geolocMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

type cameraMessage struct {
	Type   string     `json:"type"`
	Center [2]float64 `json:"center"`
	Zoom   float64    `json:"zoom"`
}

type popupMessage struct {
	Type   string     `json:"type"`
	Anchor [2]float64 `json:"anchor"`
	HTML   string     `json:"html"`
}

type highlightMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type locateRequestMessage struct {
	Type         string `json:"type"`
	HighAccuracy bool   `json:"high_accuracy"`
	TimeoutMs    int64  `json:"timeout_ms"`
}

type facetsMessage struct {
	Type    string   `json:"type"`
	Themes  []string `json:"themes"`
	Periods []string `json:"periods"`
}

// Session is one live map view. A single goroutine (the Run loop) owns
// all engine state; the browser and the geolocation round-trip feed it
// through channels.
type Session struct {
	conn    *websocket.Conn
	cfg     *config.Config
	locale  string
	dataset []geo.PlaqueFeature

	events chan clientMessage
	fixes  chan orb.Point

	// posWait is the reply slot of the locate currently in flight, nil
	// otherwise. Replies arriving with no slot are dropped.
	posMu   sync.Mutex
	posWait chan posReply

	filter         engine.Filter
	pos            *orb.Point
	sortByDistance bool

	locator *geoloc.Service
	sync    *selection.Synchronizer

	writeMu sync.Mutex
	cancel  context.CancelFunc
}

type posReply struct {
	point orb.Point
	err   error
}

// HandleSession upgrades the connection and runs the session loop
// until the view goes away.
func (s *ServerContext) HandleSession(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	locale := r.URL.Query().Get("locale")
	if !s.Config.HasLocale(locale) {
		locale = s.Config.DefaultLocale
	}

	sess := newSession(conn, s.Config, locale, s.Store.Features())
	sess.Run(r.Context())
}

func newSession(conn *websocket.Conn, cfg *config.Config, locale string, features []geo.PlaqueFeature) *Session {
	s := &Session{
		conn:    conn,
		cfg:     cfg,
		locale:  locale,
		dataset: features,
		events:  make(chan clientMessage, 16),
		fixes:   make(chan orb.Point, 1),
	}

	s.locator = geoloc.NewService(geoloc.ProviderFunc(s.requestPosition), 0)
	s.locator.OnChange = func(st geoloc.State) {
		s.send(geolocMessage{Type: "geoloc", Status: string(st.Status)})
	}
	s.locator.OnAvailable = func(p orb.Point) {
		// Hop back onto the session loop; callbacks run on the locate
		// goroutine and must not touch loop-owned state. Locates are
		// serialized by the service, so the slot is always free.
		select {
		case s.fixes <- p:
		default:
		}
	}

	popup := selection.NewPopupBuilder(locale, selection.PopupLabels{
		Untitled:    "Untitled",
		Theme:       "Theme",
		Period:      "Period",
		ViewDetails: "View details",
	})
	s.sync = selection.NewSynchronizer(s, popup)
	s.sync.Zoom = cfg.Map.DetailZoom
	s.sync.SetFeatures(features)
	s.sync.OnHighlight = func(id string) {
		s.send(highlightMessage{Type: "highlight", ID: id})
	}

	return s
}

// Run drives the session until the connection drops or ctx is done.
func (s *Session) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer cancel()
	defer func() { _ = s.conn.Close() }()

	log.Info().Str("locale", s.locale).Int("features", len(s.dataset)).Msg("Map session started")

	go s.readPump(ctx)

	facets := engine.CollectFacets(s.dataset)
	s.send(facetsMessage{Type: "facets", Themes: facets.Themes, Periods: facets.Periods})
	s.pushResults()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Map session closed")
			return
		case p := <-s.fixes:
			s.applyPosition(p)
		case msg := <-s.events:
			s.dispatch(ctx, msg)
		}
	}
}

// readPump moves browser messages onto the event channel. It is the
// only reader of the connection.
func (s *Session) readPump(ctx context.Context) {
	defer s.cancel()

	for {
		var msg clientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Websocket read failed")
			}
			return
		}

		select {
		case s.events <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) dispatch(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case "filter":
		s.filter = engine.Filter{Query: msg.Query, Theme: msg.Theme, Period: msg.Period}
		s.pushResults()

	case "sort":
		s.sortByDistance = msg.Enabled
		s.pushResults()

	case "locate":
		// The service coalesces; a locate while one is in flight is
		// dropped there.
		go s.locator.Locate(ctx)

	case "position":
		s.deliverPosition(posReply{point: orb.Point{msg.Lng, msg.Lat}})

	case "position_error":
		err := geoloc.ErrUnavailable
		if msg.Code == "denied" {
			err = geoloc.ErrPermissionDenied
		}
		s.deliverPosition(posReply{err: err})

	case "select":
		s.sync.SelectByID(msg.ID)

	case "click":
		s.sync.ClickAt(msg.Lng, msg.Lat)

	default:
		log.Debug().Str("type", msg.Type).Msg("Ignoring unknown session event")
	}
}

// applyPosition takes a device position the geolocation service
// confirmed: it becomes the distance reference, turns distance sorting
// on (the sort event can turn it back off) and centers the camera at
// the locate zoom.
func (s *Session) applyPosition(p orb.Point) {
	s.pos = &p
	s.sortByDistance = true
	s.send(cameraMessage{Type: "flyto", Center: [2]float64{p[0], p[1]}, Zoom: s.cfg.Map.LocateZoom})
	s.pushResults()
}

// pushResults recomputes the ranked list from the current inputs and
// sends it to the list view.
func (s *Session) pushResults() {
	ranked := engine.Rank(s.dataset, s.filter, s.pos, s.sortByDistance)

	items := make([]plaqueResult, 0, len(ranked))
	for _, rr := range ranked {
		f := rr.Feature
		items = append(items, plaqueResult{
			ID:           f.ID,
			Slug:         f.Slug,
			Title:        f.Title,
			Theme:        f.Theme,
			PeriodBucket: f.PeriodBucket,
			Coordinates:  [2]float64{f.Point[0], f.Point[1]},
			DistanceKm:   rr.DistanceKm,
			DetailPath:   f.DetailPath(s.locale),
		})
	}

	s.send(resultsMessage{
		Type:    "results",
		Total:   len(s.dataset),
		Matched: len(items),
		Items:   items,
	})
}

// requestPosition is the geolocation Provider: the browser holds the
// actual platform capability, so the request round-trips through it.
// The reply slot lives exactly as long as the request; a reply landing
// outside that window cannot leak into a later locate.
func (s *Session) requestPosition(ctx context.Context, req geoloc.Request) (orb.Point, error) {
	wait := make(chan posReply, 1)
	s.posMu.Lock()
	s.posWait = wait
	s.posMu.Unlock()
	defer func() {
		s.posMu.Lock()
		s.posWait = nil
		s.posMu.Unlock()
	}()

	s.send(locateRequestMessage{
		Type:         "locate_request",
		HighAccuracy: req.HighAccuracy,
		TimeoutMs:    req.Timeout.Milliseconds(),
	})

	select {
	case reply := <-wait:
		if reply.err != nil {
			return orb.Point{}, reply.err
		}
		if !geo.ValidLngLat(reply.point) {
			return orb.Point{}, geoloc.ErrUnavailable
		}
		return reply.point, nil
	case <-ctx.Done():
		return orb.Point{}, ctx.Err()
	}
}

// deliverPosition hands a browser reply to the waiting locate. The
// first reply claims the slot; anything after it, or a reply with no
// locate in flight, is dropped.
func (s *Session) deliverPosition(reply posReply) {
	s.posMu.Lock()
	wait := s.posWait
	s.posWait = nil
	s.posMu.Unlock()

	if wait == nil {
		log.Debug().Msg("Dropping position reply with no locate in flight")
		return
	}
	wait <- reply
}

// FlyTo implements selection.MapController over the wire.
func (s *Session) FlyTo(center orb.Point, zoom float64) {
	s.send(cameraMessage{Type: "flyto", Center: [2]float64{center[0], center[1]}, Zoom: zoom})
}

// ShowPopup implements selection.MapController over the wire.
func (s *Session) ShowPopup(anchor orb.Point, html string) {
	s.send(popupMessage{Type: "popup", Anchor: [2]float64{anchor[0], anchor[1]}, HTML: html})
}

func (s *Session) send(v any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.WriteJSON(v); err != nil {
		log.Debug().Err(err).Msg("Websocket write failed")
	}
}
