package observability

import (
	"go.opentelemetry.io/otel/attribute"
)

var (
	AttrTenant      = attribute.Key("funcadmin.tenant")
	AttrCollection  = attribute.Key("funcadmin.collection")
	AttrOperationID = attribute.Key("funcadmin.operation.id")
	AttrBatchSize   = attribute.Key("funcadmin.batch.size")
	AttrOperation   = attribute.Key("funcadmin.operation")
	AttrOutcome     = attribute.Key("funcadmin.outcome")
	AttrErrorType   = attribute.Key("error.type")
)

// ContractOperation creates the attributes of a contract service call.
func ContractOperation(tenant int, collection, operationID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrTenant.Int(tenant),
		AttrCollection.String(collection),
		AttrOperationID.String(operationID),
	}
}
