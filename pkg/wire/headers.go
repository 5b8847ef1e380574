// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package wire

// Request headers carried by every report.
const (
	HeaderHost      = "X-ARMT-HOST"
	HeaderIP        = "X-ARMT-IP"
	HeaderPublicKey = "X-ARMT-PUB"
	HeaderSignature = "X-ARMT-SIG"

	UserAgent   = "ARMT"
	ContentType = "application/octet-stream"
	Accept      = "text/plain"
	ReportPath  = "/"
)

// StatusAccepted is the only status the collection server uses to signal
// that a report (or the AUTH message) was accepted.
const StatusAccepted = 202
