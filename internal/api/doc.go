// Package api exposes the REST interface of the payment platform: spending
// policies, recurring subscriptions, routed payments, vault positions and
// per-user analytics. Handlers are thin glue over the engines; all business
// rules live below this package.
package api
