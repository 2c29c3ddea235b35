package sqlinline

const QInsertJobEvent = `--sql 8e9825fb-6a50-4c40-8437-19469a43a366
insert into job_events (id, job_id, level, step, event_type, message, progress, data, created_at)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::text, $7::int, coalesce($8::jsonb, '{}'::jsonb), now())
returning created_at;
`

const QSelectJobEvents = `--sql c065c09f-15a0-4acf-ae29-8922cac9e031
select id::text, job_id::text, level, step, event_type, message, progress, data, created_at
from job_events
where job_id = $1::uuid
order by created_at asc, id asc;
`
