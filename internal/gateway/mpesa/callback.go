package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ResultSuccess is the STK callback result code for a completed payment.
const ResultSuccess = 0

// CallbackResult is a decoded STK push callback.
type CallbackResult struct {
	Success           bool              `json:"success"`
	ResultCode        int               `json:"result_code"`
	ResultDesc        string            `json:"result_desc"`
	CheckoutRequestID string            `json:"checkout_request_id"`
	MerchantRequestID string            `json:"merchant_request_id"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// ReceiptNumber is the M-Pesa transaction code, e.g. "NLJ7RT61SV".
func (r *CallbackResult) ReceiptNumber() string {
	return r.Metadata["MpesaReceiptNumber"]
}

type callbackEnvelope struct {
	Body struct {
		StkCallback *struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string `json:"Name"`
					Value any    `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// DecodeCallback parses the raw webhook body. It only fails on malformed
// payloads; a missing checkout id is reported as an empty field.
func DecodeCallback(raw []byte) (*CallbackResult, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var env callbackEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: malformed callback: %v", ErrGateway, err)
	}
	cb := env.Body.StkCallback
	if cb == nil {
		return nil, fmt.Errorf("%w: callback has no stkCallback body", ErrGateway)
	}

	res := &CallbackResult{
		Success:           cb.ResultCode == ResultSuccess,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		Metadata:          map[string]string{},
	}
	for _, item := range cb.CallbackMetadata.Item {
		if item.Value == nil {
			continue
		}
		res.Metadata[item.Name] = fmt.Sprint(item.Value)
	}
	return res, nil
}

// DecodeCallback is the package-level DecodeCallback bound to the client.
func (c *Client) DecodeCallback(raw []byte) (*CallbackResult, error) {
	return DecodeCallback(raw)
}
