// Package provider defines the contract every acquirer adapter satisfies and
// the shared plumbing they build on: the registry adapters self-register
// into, the outbound HTTP client, the ISO-4217 and POSNET currency tables and
// the auto-submit form emitter.
//
// Each acquirer speaks its own wire format, so concrete adapters live in
// subpackages (garanti, payten, ykb, vakifbank, qnb, iyzico) and own their
// payload encodings bit for bit. The shared shape is the four-phase 3-D flow:
//
//	Initialize      prepare the flow, persist adapter-opaque form data
//	FormHTML        emit the ACS redirect document
//	ProcessCallback verify the issuer's answer
//	ProcessProvision send the financial authorization
//
// Adapters advertise unsupported operations through Capabilities and return
// not_implemented errors for them.
package provider
