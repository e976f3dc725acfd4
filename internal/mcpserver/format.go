package mcpserver

// StoreFormat describes how the store lays out its data, for clients that
// want to understand names, order and properties before editing them.
const StoreFormat = `# Rule Store Format

The store holds named files and a property map.

## Files

- A file has a unique name, an index and content. Names are arbitrary
  strings; the index is assigned on creation and never reused.
- On disk each file lives in ` + "`files/<index>.<encoded-name>`" + ` where the
  name is path-escaped and every ` + "`.`" + ` is written as ` + "`%2E`" + `.
- Files are listed in display order. ` + "`move_file`" + ` moves a file to the
  position of another file.

## Properties

- Properties are JSON values stored under string keys in ` + "`properties`" + `.
- ` + "`filesOrder`" + ` is reserved: it is always the list of file names in
  display order. It can be set to a reordering of the current names but
  cannot be removed.

## Content encoding

` + "`write_file`" + ` and ` + "`update_file`" + ` accept plain text, or binary content as a
base64 data URI (` + "`data:application/octet-stream;base64,...`" + `).
Writes return immediately and reach disk in the background.
`
