package httpapi

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/Prrash278/tuma/internal/currency"
	"github.com/Prrash278/tuma/internal/utils"
)

// CurrencyResponse is a table row plus the rate customers actually pay
type CurrencyResponse struct {
	currency.Currency
	FinalRate decimal.Decimal `json:"finalRate"`
}

// ConversionResponse is the result of GET /api/currencies/convert
type ConversionResponse struct {
	Amount    decimal.Decimal `json:"amount"`
	From      currency.Code   `json:"from"`
	To        currency.Code   `json:"to"`
	Converted decimal.Decimal `json:"converted"`
	Formatted string          `json:"formatted"`
	Rate      decimal.Decimal `json:"rate"`
}

// handleListCurrencies handles GET /api/currencies
func (d *Dependencies) handleListCurrencies(w http.ResponseWriter, r *http.Request) {
	rows := d.Converter.Table().List()
	resp := make([]CurrencyResponse, 0, len(rows))
	for _, row := range rows {
		rate, err := d.Converter.Rate(currency.USD, row.Code)
		if err != nil {
			d.respondWithServiceError(w, r, err, "Failed to list currencies")
			return
		}
		resp = append(resp, CurrencyResponse{Currency: row, FinalRate: rate})
	}
	utils.RespondWithData(w, http.StatusOK, resp)
}

func (d *Dependencies) parsePair(w http.ResponseWriter, r *http.Request) (currency.Code, currency.Code, bool) {
	q := r.URL.Query()
	if q.Get("from") == "" || q.Get("to") == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing from or to parameter")
		return "", "", false
	}

	table := d.Converter.Table()
	from, err := table.ParseCode(q.Get("from"))
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to convert")
		return "", "", false
	}
	to, err := table.ParseCode(q.Get("to"))
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to convert")
		return "", "", false
	}
	return from, to, true
}

// handleConvert handles GET /api/currencies/convert?amount=&from=&to=
func (d *Dependencies) handleConvert(w http.ResponseWriter, r *http.Request) {
	amount, err := decimal.NewFromString(r.URL.Query().Get("amount"))
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid amount parameter")
		return
	}
	from, to, ok := d.parsePair(w, r)
	if !ok {
		return
	}

	converted, err := d.Converter.Convert(amount, from, to)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to convert")
		return
	}
	rate, err := d.Converter.Rate(from, to)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to convert")
		return
	}
	formatted, err := d.Converter.Format(converted, to)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to convert")
		return
	}

	utils.RespondWithData(w, http.StatusOK, ConversionResponse{
		Amount:    amount,
		From:      from,
		To:        to,
		Converted: converted,
		Formatted: formatted,
		Rate:      rate,
	})
}

// handleRate handles GET /api/currencies/rate?from=&to=
func (d *Dependencies) handleRate(w http.ResponseWriter, r *http.Request) {
	from, to, ok := d.parsePair(w, r)
	if !ok {
		return
	}

	rate, err := d.Converter.Rate(from, to)
	if err != nil {
		d.respondWithServiceError(w, r, err, "Failed to fetch rate")
		return
	}
	utils.RespondWithData(w, http.StatusOK, map[string]any{"from": from, "to": to, "rate": rate})
}
