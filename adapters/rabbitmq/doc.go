/*
Package rabbitmq provides a RabbitMQ transport for the sdk bus.
It forwards gateway-bound events to an AMQP topic exchange, includes an auto-reconnect
publisher, supports optional header propagation via a bus.HeaderPropagator and can feed
deliveries from the platform back into the bus.
*/
package rabbitmq
