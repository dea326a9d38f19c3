/*
Package sdkbus is the caller-facing surface of the sdk event bus.

A Bus owns the consumer loops and correlators for every registered tenant and composes the
registry, enqueue engine and correlators into a synchronous Call: register a waiter, put the
request on the gateway-bound queue, block until the answer comes back through the tenant's
response queue. The platform side feeds answers and commands back in through Route.
*/
package sdkbus
