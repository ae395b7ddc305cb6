// Package healthcheck probes every endpoint of the running service over
// HTTP and reports how each one answered.
//
// Probes run one at a time or in fixed-size batches with a pause in between.
// A 200 counts as success and a 400 as an expected validation failure;
// anything else, including no response at all, is a fault. Results are
// always reported in the order the endpoints were given.
package healthcheck
