/*
Package blitstore is the storage core of a document database: a self-describing
binary document format ("blittable" documents) that can be read in place without
a deserialization pass, and a copy-on-write B+Tree page store with a table layer
on top.

The work is split across packages:

	arena      bump allocator backing parser and writer buffers
	blittable  document writer, builder state machine, reader and validation
	pager      paged store with single-writer/multi-reader transactions
	tree       B+Tree and fixed-size tree over pager pages
	table      row store with primary, secondary and fixed-size indexes

This package holds the error taxonomy shared by all of them and documents the
persisted formats.

Blittable Documents

A document is an immutable byte sequence. Values are written first, children
before their parents, so every container only ever refers backwards. The tail
of the buffer is read in reverse to locate everything else.

    Document layout:
    +---------------+---------------------+-------------+-------------------+---------------------+-----------------+------------+
    | values area   | property names      | offset width | name offsets     | names offset        | root offset     | root token |
    |               | (varint len, bytes) | (1 byte)     | (width x count)  | (reversed varint)   | (reversed varint)| (1 byte)  |
    +---------------+---------------------+-------------+-------------------+---------------------+-----------------+------------+

Name offsets count backwards from the offset width byte. The names offset
points at that byte, the root offset at the root object metadata.

The root is always an object. A document built from a JSON array is wrapped
in an object with the single property "_".

    Object:
    +-----------------------+-------------------------------------------------------------------+-------+
    | property count (uvarint) | entry 1: value distance (W bytes) | property id (P bytes) | token (1 byte) |  ...  |
    +-----------------------+-------------------------------------------------------------------+-------+

Entries are sorted by property name (byte order) so lookups can binary
search. The value distance is the object position minus the value position.
W and P are encoded in the token that refers to the object.

    Array:
    +--------------------------+-------------------------------------------------+-------+
    | element count (uvarint)  | element 1: value distance (W bytes) | token (1 byte) |  ...  |
    +--------------------------+-------------------------------------------------+-------+

    Scalars:
    Integer              zig-zag varint
    LazyNumber           uvarint length, decimal text (round-trip format)
    Boolean              1 byte
    Null                 1 byte (zero)
    String               uvarint length, bytes, escape table
    CompressedString     uvarint plain length, uvarint compressed length, lz4 block, escape table
    SmallCompressed      uvarint plain length, uvarint compressed length, dictionary codes, escape table

    Escape table:
    +------------------------+-------------------------------+-------+
    | escape count (uvarint) | delta to escape 1 (uvarint)   |  ...  |
    +------------------------+-------------------------------+-------+

Pages

Every page starts with a 32 byte header. Multi-byte fields are little endian.

    Page header:
    +------------------+------------+----------------+-----------+-----------+----------+-------------------+----------+
    | number (8 bytes) | flags (1)  | tree flags (1) | lower (2) | upper (2) | aux (2)  | overflow size (4) | aux (12) |
    +------------------+------------+----------------+-----------+-----------+----------+-------------------+----------+

Pages 0 and 1 are meta pages, written alternately on commit. The one with the
higher transaction id and a valid checksum wins on open.

    Meta page body (after the page header):
    +-----------+-------------+---------------+-------------+---------------+----------------------+-------------+
    | magic (8) | version (4) | page size (4) | tx id (8)   | next page (8) | free list page (8)   | ...         |
    +-----------+-------------+---------------+-------------+---------------+----------------------+-------------+
    | free list pages (4) | free list count (4) | store id (16) | root tree state (64) | checksum (8, xxhash) |
    +---------------------+---------------------+---------------+----------------------+----------------------+

Tree pages are slotted: a sorted array of 2 byte node offsets grows up from
the header (lower), node data grows down from the end of the page (upper).

    Tree node:
    +-----------+--------------+--------------+-----------------------------+------------+-------------------+
    | flags (1) | reserved (1) | key size (2) | data size or page no. (8)   | key bytes  | inline data bytes |
    +-----------+--------------+--------------+-----------------------------+------------+-------------------+

Values larger than the node limit are stored in a run of overflow pages; the
first page carries the header with the value size, the data follows
contiguously. A compressed leaf page holds a single snappy block of the
uncompressed slotted body.

Raw data sections hold table rows. Small rows are packed into section pages,
each prefixed by a 4 byte entry header (allocated size, used size). A row id is
page number * page size + offset for packed rows and page number * page size
for rows stored in their own overflow run.
*/
package blitstore
