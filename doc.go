/*
Package duckling is a handle-checked access layer over embedded DuckDB.

# Overview

Every engine resource, from the Database down to a single QueryResult or
Appender, is addressed through a generation-counted Handle. Using a
resource after it, or anything that owns it, has been closed returns an
error of type ClosedHandle instead of touching freed engine state:

	Database
	  └── Connection
	        ├── Statement
	        │     └── QueryResult
	        ├── QueryResult
	        └── Appender

Closing a Connection releases everything below it. A Database refuses to
close while connections are open.

# Queries

	db, err := duckling.Open(duckling.Memory, nil)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	conn, err := db.Connect()
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	res, err := conn.Query("SELECT id, name FROM users WHERE age > ?", 20)
	if err != nil {
		log.Fatal(err)
	}
	defer res.Close()

	for {
		chunk, err := res.FetchChunk()
		if err != nil {
			log.Fatal(err)
		}
		if len(chunk) == 0 {
			break
		}
		for _, row := range chunk {
			fmt.Println(row[0].Int(), row[1].Text())
		}
	}

Rows are streamed in chunks of Config.ChunkSize rows (2048 by default).
FetchAll returns whatever has not been fetched yet.

# Appender

An Appender buffers rows on the client. Nothing is visible to queries until
Flush or Close commits the buffer in one transaction:

	app, err := conn.Appender("users")
	if err != nil {
		log.Fatal(err)
	}
	if err := app.AddRows([][]any{{1, "Alice", 30}, {2, "Bob", 25}}); err != nil {
		log.Fatal(err)
	}
	if err := app.Close(); err != nil {
		log.Fatal(err)
	}

# Errors

All errors are *Error values. Match categories with errors.Is against the
sentinels (ErrClosedHandle, ErrSyntax, ErrBind, ...) or with IsError.

# Backends

The default backend uses github.com/duckdb/duckdb-go. Setting Config.Backend
to "dynamic" loads libduckdb at run time instead, from Config.LibraryPath or
the DUCKLING_LIBRARY environment variable.
*/
package duckling
