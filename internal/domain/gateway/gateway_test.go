package gateway

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefundCreatePayloadAndState(t *testing.T) {
	payload := RefundCreate{ExternalID: "100-abc", TransactionID: 42, Type: RefundMerchantOnline}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"externalId":"100-abc","transaction":42,"type":"MERCHANT_INITIATED_ONLINE","reductions":null}`, string(body))

	var r Refund
	require.NoError(t, json.Unmarshal([]byte(`{"id":1,"externalId":"100-abc","state":"CREATE"}`), &r))
	assert.Equal(t, RefundStateCreate, r.State)
}

func TestReductionAmount(t *testing.T) {
	items := []LineItem{
		{UniqueID: "line-a", Quantity: decimal.NewFromInt(2), AmountIncludingTax: decimal.NewFromInt(60)},
		{UniqueID: "line-b", Quantity: decimal.NewFromInt(1), AmountIncludingTax: decimal.NewFromInt(20)},
	}
	reductions := []LineItemReduction{
		{LineItemUniqueID: "line-a", QuantityReduction: decimal.NewFromInt(1), UnitPriceReduction: decimal.NewFromInt(5)},
		{LineItemUniqueID: "A", QuantityReduction: decimal.NewFromInt(1), UnitPriceReduction: decimal.Zero},
	}

	// 30 for the unit plus 5 on the one left; the SKU-keyed reduction matches nothing.
	assert.True(t, ReductionAmount(items, reductions).Equal(decimal.NewFromInt(35)))
	assert.True(t, TotalAmountIncludingTax(items).Equal(decimal.NewFromInt(80)))
}
