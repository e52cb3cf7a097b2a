package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// customerHeader identifies the caller when the body does not.
const customerHeader = "X-Customer-ID"

const decodeBufSize = 4096

type itemRequest struct {
	ProductID string
	Quantity  int
	UnitPrice *decimal.Decimal
}

type cartRequest struct {
	CustomerID string
	Currency   string
	Items      []itemRequest
	// Rules restricts a commit to the listed rule ids when non-nil.
	Rules []string
}

type redeemRequest struct {
	Code     string
	Location string
}

// badRequestError marks malformed input.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string { return e.err.Error() }
func (e *badRequestError) Unwrap() error { return e.err }

func badRequest(err error) error {
	return &badRequestError{err: err}
}

func decodeCart(r *http.Request) (*cartRequest, error) {
	req := &cartRequest{CustomerID: r.Header.Get(customerHeader)}
	d := jx.Decode(r.Body, decodeBufSize)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "customer_id":
			req.CustomerID, err = d.Str()
		case "currency":
			req.Currency, err = d.Str()
		case "items":
			err = d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				req.Items = append(req.Items, item)
				return err
			})
		case "rules":
			req.Rules = []string{}
			err = d.Arr(func(d *jx.Decoder) error {
				id, err := d.Str()
				req.Rules = append(req.Rules, id)
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, badRequest(errors.Wrap(err, "decode cart"))
	}
	if len(req.Items) == 0 {
		return nil, badRequest(errors.New("items required"))
	}
	return req, nil
}

func decodeItem(d *jx.Decoder) (itemRequest, error) {
	var item itemRequest
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "product_id":
			item.ProductID, err = d.Str()
		case "quantity":
			item.Quantity, err = d.Int()
		case "unit_price":
			var s string
			if d.Next() == jx.Number {
				var n jx.Num
				n, err = d.Num()
				s = n.String()
			} else {
				s, err = d.Str()
			}
			if err != nil {
				return err
			}
			price, err := decimal.NewFromString(s)
			if err != nil {
				return err
			}
			item.UnitPrice = &price
		default:
			err = d.Skip()
		}
		return err
	})
	return item, err
}

func decodeRedeem(r *http.Request) (*redeemRequest, error) {
	var req redeemRequest
	err := jx.Decode(r.Body, decodeBufSize).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "code":
			req.Code, err = d.Str()
		case "location":
			req.Location, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return nil, badRequest(errors.Wrap(err, "decode redeem"))
	}
	if req.Code == "" {
		return nil, badRequest(errors.New("code required"))
	}
	return &req, nil
}
