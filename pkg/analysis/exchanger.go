/*
 * Copyright 2022 Holoinsight Project Authors. Licensed under Apache-2.0.
 */

package analysis

import (
	"strconv"

	"github.com/traas-stack/holoinsight-collector/pkg/analysis/listener"
	"github.com/traas-stack/holoinsight-collector/pkg/analysis/metric"
	"github.com/traas-stack/holoinsight-collector/pkg/register"
	"github.com/traas-stack/holoinsight-collector/pkg/stream/exchange"
)

// referenceExchanger fills the service and peer ids of a ServiceReferenceRecord.
type referenceExchanger struct {
	resolver listener.Resolver
}

// Exchange looks every missing id up once. Lookups of unknown names schedule their
// registration, so a later attempt of the same record finds them.
func (e *referenceExchanger) Exchange(payload exchange.Exchangeable) (interface{}, bool) {
	r, ok := payload.(*metric.ServiceReferenceRecord)
	if !ok {
		return nil, false
	}
	out := *r
	if out.BehindApplicationID == register.Unresolved && out.Peer != "" {
		out.BehindApplicationID = e.resolver.GetOrCreate(register.KindPeer, out.Peer)
	}
	if out.FrontServiceID == register.Unresolved {
		out.FrontServiceID = e.service(out.FrontApplicationID, out.FrontServiceName)
	}
	if out.BehindServiceID == register.Unresolved && out.BehindApplicationID != register.Unresolved {
		out.BehindServiceID = e.service(out.BehindApplicationID, out.BehindServiceName)
	}
	if !out.Resolved() {
		return nil, false
	}
	return &out, true
}

// service names are unique within their application only
func (e *referenceExchanger) service(applicationID int32, name string) int32 {
	return e.resolver.GetOrCreate(register.KindService, ServiceKey(applicationID, name))
}

// ServiceKey is the registered name of service name of an application.
func ServiceKey(applicationID int32, name string) string {
	return strconv.FormatInt(int64(applicationID), 10) + "/" + name
}
