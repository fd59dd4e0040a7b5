package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/corvusdb/corvus/internal/queryparser"
	"github.com/corvusdb/corvus/pkg/corvus"
)

// shell holds the interactive session's state: which database is
// currently selected and whether query results print pretty-printed
// JSON. It mirrors the dot-command surface of a Mongo-flavoured shell,
// but talks to an in-process *corvus.DB rather than a socket.
type shell struct {
	db     *corvus.DB
	dbName string
	pretty bool
}

func newShell(db *corvus.DB, dbName string) *shell {
	return &shell{db: db, dbName: dbName}
}

func (s *shell) promptString() string {
	if s.dbName == "" {
		return prompt
	}
	return s.dbName + "> "
}

func (s *shell) execute(input string) string {
	if strings.HasPrefix(input, ".") {
		return s.executeCommand(input)
	}
	if s.dbName == "" {
		return "ERROR: no database selected, use .use <name> first"
	}
	if len(queryparser.SplitBatch(input)) > 1 {
		msg, err := s.db.QueryBatch(s.dbName, input)
		if err != nil {
			return "ERROR: " + err.Error()
		}
		return msg
	}

	if s.pretty {
		if stmt, err := queryparser.Parse(input); err == nil && stmt.Operation == "find" {
			docs, err := s.db.Find(s.dbName, stmt.Collection, stmt.Filter)
			if err != nil {
				return "ERROR: " + err.Error()
			}
			return prettyJSON(docs)
		}
	}

	msg, err := s.db.Query(s.dbName, input)
	if err != nil {
		return "ERROR: " + err.Error()
	}
	return msg
}

func (s *shell) executeCommand(input string) string {
	fields := strings.Fields(input)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case ".help":
		return helpText

	case ".use":
		if len(args) != 1 {
			return "usage: .use <database>"
		}
		s.dbName = args[0]
		return "using database " + s.dbName

	case ".databases", ".ls":
		names, err := s.db.ListDatabases()
		if err != nil {
			return "ERROR: " + err.Error()
		}
		if len(names) == 0 {
			return "(no databases)"
		}
		return strings.Join(names, "\n")

	case ".collections":
		if s.dbName == "" {
			return "ERROR: no database selected"
		}
		names, err := s.db.ListCollections(s.dbName)
		if err != nil {
			return "ERROR: " + err.Error()
		}
		if len(names) == 0 {
			return "(no collections)"
		}
		return strings.Join(names, "\n")

	case ".create-database":
		if len(args) != 1 {
			return "usage: .create-database <name>"
		}
		if err := s.db.CreateDatabase(args[0]); err != nil {
			return "ERROR: " + err.Error()
		}
		return "database created successfully"

	case ".drop-database":
		if len(args) != 1 {
			return "usage: .drop-database <name>"
		}
		if err := s.db.DeleteDatabase(args[0]); err != nil {
			return "ERROR: " + err.Error()
		}
		if s.dbName == args[0] {
			s.dbName = ""
		}
		return "database deleted successfully"

	case ".create-collection":
		if len(args) != 1 || s.dbName == "" {
			return "usage: .create-collection <name> (with a database selected)"
		}
		if err := s.db.CreateCollection(s.dbName, args[0]); err != nil {
			return "ERROR: " + err.Error()
		}
		return "collection created successfully"

	case ".create-index":
		if len(args) != 2 || s.dbName == "" {
			return "usage: .create-index <collection> <field>"
		}
		if err := s.db.CreateIndex(s.dbName, args[0], args[1]); err != nil {
			return "ERROR: " + err.Error()
		}
		return fmt.Sprintf("index created on %s.%s", args[0], args[1])

	case ".drop-index":
		if len(args) != 2 || s.dbName == "" {
			return "usage: .drop-index <collection> <field>"
		}
		if err := s.db.DropIndex(s.dbName, args[0], args[1]); err != nil {
			return "ERROR: " + err.Error()
		}
		return fmt.Sprintf("index dropped from %s.%s", args[0], args[1])

	case ".pretty":
		s.pretty = !s.pretty
		return fmt.Sprintf("pretty printing: %v", s.pretty)

	case ".checkpoint":
		s.db.Checkpoint()
		return "checkpoint triggered"

	case ".pwd":
		return s.db.DataDir()

	default:
		return "unknown command: " + cmd + " (try .help)"
	}
}

func prettyJSON(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

const helpText = `Commands:
  .help                              show this text
  .use <db>                          select the current database
  .databases, .ls                    list databases
  .collections                       list collections in the current database
  .create-database <name>            create a database
  .drop-database <name>              delete a database
  .create-collection <name>          create a collection
  .create-index <coll> <field>       build a secondary index
  .drop-index <coll> <field>         remove a secondary index
  .pretty                            toggle pretty-printed JSON results
  .checkpoint                        force an immediate checkpoint
  .pwd                                print the data directory
  .exit, .quit                       leave the shell

Anything else is run as a query against the current database, e.g.:
  db.users.find({name: 'Ada'})
  db.users.insert({name: 'Ada', age: 30})
  db.users.update({name: 'Ada'}, {$set: {age: 31}})
  db.users.delete({name: 'Ada'})

Separate multiple statements with ';' to run them as one batch transaction.`
