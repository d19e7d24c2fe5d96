// Package imagegen talks to an AI Horde compatible asynchronous image
// service: submit a job, poll its check endpoint, then fetch the result.
package imagegen
