package exchange

import (
	"time"

	"betbot/internal/model"
)

// Wire types for the identity and JSON-RPC endpoints.

type identityResponse struct {
	Token  string `json:"token"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
	ID      int    `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		APINGException struct {
			ErrorCode    string `json:"errorCode"`
			ErrorDetails string `json:"errorDetails"`
		} `json:"APINGException"`
	} `json:"data"`
}

func (e *rpcError) code() string {
	if c := e.Data.APINGException.ErrorCode; c != "" {
		return c
	}
	return e.Message
}

type timeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

type marketFilterWire struct {
	EventTypeIDs       []string   `json:"eventTypeIds,omitempty"`
	MarketTypeCodes    []string   `json:"marketTypeCodes,omitempty"`
	MarketBettingTypes []string   `json:"marketBettingTypes,omitempty"`
	MarketCountries    []string   `json:"marketCountries,omitempty"`
	MarketIDs          []string   `json:"marketIds,omitempty"`
	TurnInPlayEnabled  *bool      `json:"turnInPlayEnabled,omitempty"`
	InPlayOnly         *bool      `json:"inPlayOnly,omitempty"`
	MarketStartTime    *timeRange `json:"marketStartTime,omitempty"`
}

type catalogueParams struct {
	Filter           marketFilterWire `json:"filter"`
	MarketProjection []string         `json:"marketProjection"`
	Sort             string           `json:"sort"`
	MaxResults       int              `json:"maxResults"`
}

type marketCatalogue struct {
	MarketID        string    `json:"marketId"`
	MarketName      string    `json:"marketName"`
	MarketStartTime time.Time `json:"marketStartTime"`
	Event           struct {
		Name        string `json:"name"`
		Venue       string `json:"venue"`
		CountryCode string `json:"countryCode"`
	} `json:"event"`
	Runners []struct {
		SelectionID  int64  `json:"selectionId"`
		RunnerName   string `json:"runnerName"`
		SortPriority int    `json:"sortPriority"`
	} `json:"runners"`
}

func (c marketCatalogue) toModel() model.Market {
	m := model.Market{
		ID:        c.MarketID,
		Name:      c.MarketName,
		Venue:     c.Event.Venue,
		EventName: c.Event.Name,
		Country:   c.Event.CountryCode,
		StartTime: c.MarketStartTime.UTC(),
	}
	for _, r := range c.Runners {
		m.Runners = append(m.Runners, model.Runner{
			SelectionID:  r.SelectionID,
			MarketID:     c.MarketID,
			Name:         r.RunnerName,
			SortPriority: r.SortPriority,
		})
	}
	return m
}

type priceProjection struct {
	PriceData []string `json:"priceData"`
}

type marketBookParams struct {
	MarketIDs       []string        `json:"marketIds"`
	PriceProjection priceProjection `json:"priceProjection"`
}

type runnerBookParams struct {
	MarketID        string          `json:"marketId"`
	SelectionID     int64           `json:"selectionId"`
	PriceProjection priceProjection `json:"priceProjection"`
}

type marketBookWire struct {
	MarketID string `json:"marketId"`
	Status   string `json:"status"`
	InPlay   bool   `json:"inplay"`
	Runners  []struct {
		SelectionID     int64   `json:"selectionId"`
		Status          string  `json:"status"`
		LastPriceTraded float64 `json:"lastPriceTraded"`
		Ex              struct {
			AvailableToBack []model.PriceSize `json:"availableToBack"`
			AvailableToLay  []model.PriceSize `json:"availableToLay"`
		} `json:"ex"`
	} `json:"runners"`
}

func (b marketBookWire) toModel(capturedAt time.Time) *model.Book {
	book := &model.Book{
		MarketID:   b.MarketID,
		CapturedAt: capturedAt,
		Status:     b.Status,
		InPlay:     b.InPlay,
	}
	for _, r := range b.Runners {
		book.Runners = append(book.Runners, model.RunnerBook{
			SelectionID:     r.SelectionID,
			Status:          r.Status,
			LastPriceTraded: r.LastPriceTraded,
			AvailableToBack: r.Ex.AvailableToBack,
			AvailableToLay:  r.Ex.AvailableToLay,
		})
	}
	return book
}

type limitOrderWire struct {
	Size            float64 `json:"size"`
	Price           float64 `json:"price"`
	PersistenceType string  `json:"persistenceType"`
	TimeInForce     string  `json:"timeInForce,omitempty"`
}

type marketOnCloseWire struct {
	Liability float64 `json:"liability"`
}

type placeInstruction struct {
	SelectionID        int64              `json:"selectionId"`
	Handicap           float64            `json:"handicap"`
	Side               string             `json:"side"`
	OrderType          string             `json:"orderType"`
	LimitOrder         *limitOrderWire    `json:"limitOrder,omitempty"`
	MarketOnCloseOrder *marketOnCloseWire `json:"marketOnCloseOrder,omitempty"`
	CustomerOrderRef   string             `json:"customerOrderRef,omitempty"`
}

func toInstruction(r model.BetRequest) placeInstruction {
	in := placeInstruction{
		SelectionID:      r.SelectionID,
		Side:             string(r.Side),
		OrderType:        string(r.Type),
		CustomerOrderRef: r.CustomerRef,
	}
	if r.Type == model.MarketOnClose {
		in.MarketOnCloseOrder = &marketOnCloseWire{Liability: r.Liability}
	} else {
		in.LimitOrder = &limitOrderWire{
			Size:            r.Size,
			Price:           r.Price,
			PersistenceType: "LAPSE",
			TimeInForce:     "FILL_OR_KILL",
		}
	}
	return in
}

type placeParams struct {
	MarketID            string             `json:"marketId"`
	Instructions        []placeInstruction `json:"instructions"`
	CustomerRef         string             `json:"customerRef,omitempty"`
	CustomerStrategyRef string             `json:"customerStrategyRef,omitempty"`
}

type placeExecutionReport struct {
	Status             string `json:"status"`
	ErrorCode          string `json:"errorCode"`
	MarketID           string `json:"marketId"`
	InstructionReports []struct {
		Status              string    `json:"status"`
		ErrorCode           string    `json:"errorCode"`
		OrderStatus         string    `json:"orderStatus"`
		BetID               string    `json:"betId"`
		PlacedDate          time.Time `json:"placedDate"`
		AveragePriceMatched float64   `json:"averagePriceMatched"`
		SizeMatched         float64   `json:"sizeMatched"`
	} `json:"instructionReports"`
}

type betIDsParams struct {
	BetIDs    []string `json:"betIds"`
	BetStatus string   `json:"betStatus,omitempty"`
}

type currentOrdersReport struct {
	CurrentOrders []struct {
		BetID               string    `json:"betId"`
		MarketID            string    `json:"marketId"`
		SelectionID         int64     `json:"selectionId"`
		Side                string    `json:"side"`
		OrderType           string    `json:"orderType"`
		Status              string    `json:"status"`
		AveragePriceMatched float64   `json:"averagePriceMatched"`
		SizeMatched         float64   `json:"sizeMatched"`
		PlacedDate          time.Time `json:"placedDate"`
		CustomerStrategyRef string    `json:"customerStrategyRef"`
	} `json:"currentOrders"`
	MoreAvailable bool `json:"moreAvailable"`
}

type clearedOrdersReport struct {
	ClearedOrders []struct {
		BetID               string    `json:"betId"`
		MarketID            string    `json:"marketId"`
		SelectionID         int64     `json:"selectionId"`
		Side                string    `json:"side"`
		OrderType           string    `json:"orderType"`
		BetOutcome          string    `json:"betOutcome"`
		PriceMatched        float64   `json:"priceMatched"`
		SizeSettled         float64   `json:"sizeSettled"`
		Profit              float64   `json:"profit"`
		PlacedDate          time.Time `json:"placedDate"`
		SettledDate         time.Time `json:"settledDate"`
		CustomerStrategyRef string    `json:"customerStrategyRef"`
	} `json:"clearedOrders"`
	MoreAvailable bool `json:"moreAvailable"`
}

type accountFundsWire struct {
	AvailableToBetBalance float64 `json:"availableToBetBalance"`
	Exposure              float64 `json:"exposure"`
	RetainedCommission    float64 `json:"retainedCommission"`
	ExposureLimit         float64 `json:"exposureLimit"`
	Wallet                string  `json:"wallet"`
}
