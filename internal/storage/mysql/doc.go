// Package mysql opens MySQL connection pools for deployments that keep the
// agents' tables and the job store on a shared server instead of the local
// SQLite file.
package mysql
